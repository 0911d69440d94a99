/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"fmt"
	"sync"
)

var (
	globalMu      sync.RWMutex
	globalFactory *BaseDatabaseFactory
	globalStore   *Store
)

// GetStore returns the process-wide store opened by InitDB, or nil.
func GetStore() *Store {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalStore
}

// GetDatabaseManager returns the global database manager.
func GetDatabaseManager() AbstractDatabaseManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory != nil {
		return globalFactory.GetManager()
	}
	return nil
}

// InitDB connects the process-wide store. When cfg.SchemaConfig names a
// schema file its tables are registered, and migrated if MigrateOnStartup.
func InitDB(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: database configuration cannot be empty", ErrConfiguration)
	}
	if cfg.SchemaConfig.SchemaFile != "" {
		if err := RegisterSchemaFile(defaultRegistry, cfg.SchemaConfig.SchemaFile); err != nil {
			return nil, err
		}
	}

	factory := NewDatabaseFactory()
	manager, err := factory.CreateFromConfig(&cfg.ConnectionConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := factory.InitializeDatabase(ctx, cfg.SchemaConfig.MigrateOnStartup); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store := NewStore(manager)
	globalMu.Lock()
	globalFactory = factory
	globalStore = store
	globalMu.Unlock()
	return store, nil
}

// CloseDB closes the process-wide store.
func CloseDB() error {
	globalMu.Lock()
	store := globalStore
	globalStore, globalFactory = nil, nil
	globalMu.Unlock()
	return store.Close()
}

// GetHealthStatus returns the current database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	globalMu.RLock()
	factory := globalFactory
	globalMu.RUnlock()
	if factory != nil {
		return factory.GetHealthStatus(ctx)
	}
	return &HealthStatus{LastError: "Database not initialized"}
}

// GetDatabaseStats returns global pool statistics.
func GetDatabaseStats() *DBStats {
	store := GetStore()
	if store == nil {
		return &DBStats{}
	}
	return store.Stats()
}

// RunMigrations migrates registered tables on the process-wide store.
func RunMigrations(ctx context.Context) error {
	manager := GetDatabaseManager()
	if manager == nil {
		return fmt.Errorf("database not initialized")
	}
	return manager.RunMigrations(ctx)
}

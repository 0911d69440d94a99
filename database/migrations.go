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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

// TableVersion records the layout version applied to one table.
type TableVersion struct {
	bun.BaseModel `bun:"table:tablelab_migrations"`

	Name      string    `bun:"name,pk"`
	Version   int       `bun:"version,notnull"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

// MigrationManager creates declared tables and upgrades them version by version.
type MigrationManager struct {
	db       *bun.DB
	logger   Logger
	registry TableRegistry
}

// NewMigrationManager uses the process-wide table registry.
func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	return NewMigrationManagerWithRegistry(db, logger, defaultRegistry)
}

func NewMigrationManagerWithRegistry(db *bun.DB, logger Logger, registry TableRegistry) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	return &MigrationManager{db: db, logger: logger, registry: registry}
}

// RunMigrations brings every registered table to its declared version. A table
// never seen before is created at its current layout; a known table runs the
// upgrade statements above its recorded version. Each table migrates in one
// transaction.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}

	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := mm.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, def := range mm.registry.Tables() {
		if err := mm.migrateTable(ctx, def); err != nil {
			return fmt.Errorf("failed to migrate table %s: %w", def.Name, err)
		}
	}

	mm.logger.Info("Database migrations completed!")
	return nil
}

func (mm *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := mm.db.NewCreateTable().
		Model((*TableVersion)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// AppliedVersion returns the recorded version of table, 0 if never migrated.
func (mm *MigrationManager) AppliedVersion(ctx context.Context, db bun.IDB, table string) (int, error) {
	rec := new(TableVersion)
	err := db.NewSelect().Model(rec).Where("name = ?", table).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

func (mm *MigrationManager) migrateTable(ctx context.Context, def TableDefinition) error {
	target := def.CurrentVersion()
	return mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		applied, err := mm.AppliedVersion(ctx, tx, def.Name)
		if err != nil {
			return err
		}
		if applied >= target {
			return nil
		}

		var statements []string
		if applied == 0 {
			statements = []string{def.Create}
		} else {
			versions := make([]int, 0, len(def.Upgrades))
			for v := range def.Upgrades {
				if v > applied && v <= target {
					versions = append(versions, v)
				}
			}
			sort.Ints(versions)
			for _, v := range versions {
				statements = append(statements, def.Upgrades[v]...)
			}
		}

		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return NewExecutionError("migrate", stmt, 0, err)
			}
		}

		rec := &TableVersion{Name: def.Name, Version: target, AppliedAt: time.Now()}
		if applied == 0 {
			_, err = tx.NewInsert().Model(rec).Exec(ctx)
		} else {
			_, err = tx.NewUpdate().Model(rec).WherePK().Exec(ctx)
		}
		if err != nil {
			return err
		}
		mm.logger.Info("Table migrated", "table", def.Name, "from", applied, "to", target)
		return nil
	})
}

// GetAppliedMigrations returns every version record ordered by table name.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]TableVersion, error) {
	var versions []TableVersion
	err := mm.db.NewSelect().
		Model(&versions).
		Order("name ASC").
		Scan(ctx)
	return versions, err
}

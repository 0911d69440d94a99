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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type AccessMode int

const (
	ReadAccess AccessMode = iota
	WriteAccess
)

func (m AccessMode) String() string {
	if m == WriteAccess {
		return "write"
	}
	return "read"
}

// Store is the shared handle every table-access instance goes through. The
// underlying pool is opened on first Read or Write and closed once by the
// owner through Close; query paths never close it.
//
// Store adds no locking around statements. Concurrent reads are as safe as the
// driver makes them; overlapping writes to the same rows must be serialised by
// the caller.
type Store struct {
	manager AbstractDatabaseManager
	slow    *SlowQueryHook

	mu      sync.Mutex
	opened  bool
	closed  bool
	cursors atomic.Int64
}

// NewStore wraps manager without connecting it.
func NewStore(manager AbstractDatabaseManager) *Store {
	s := &Store{manager: manager}
	if cfg := manager.Config(); cfg != nil && cfg.SlowQueryTime > 0 {
		s.slow = NewSlowQueryHook(cfg.SlowQueryTime, GetLogger())
	}
	return s
}

// OpenStore builds a store for cfg. The connection is made lazily.
func OpenStore(cfg *ConnectionConfig) (*Store, error) {
	manager, err := NewDatabaseFactory().CreateFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(manager), nil
}

// OpenMemoryStore opens a private in-memory sqlite store.
func OpenMemoryStore() (*Store, error) {
	return OpenStore(MemoryConfig())
}

func (s *Store) handle(ctx context.Context, mode AccessMode) (*bun.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !s.opened {
		if err := s.manager.Connect(ctx); err != nil {
			return nil, NewExecutionError("open "+mode.String(), "", 0, err)
		}
		s.opened = true
		Trace("open", mode.String(), 0)
	}
	db := s.manager.GetDB()
	if db == nil {
		return nil, NewExecutionError("open "+mode.String(), "", 0, fmt.Errorf("database not connected"))
	}
	return db, nil
}

// Read returns the handle for queries, opening it on first use.
func (s *Store) Read(ctx context.Context) (*bun.DB, error) {
	return s.handle(ctx, ReadAccess)
}

// Write returns the handle for mutations, opening it on first use.
func (s *Store) Write(ctx context.Context) (*bun.DB, error) {
	return s.handle(ctx, WriteAccess)
}

// Dialect reports the configured dialect without connecting.
func (s *Store) Dialect() dialect.Name {
	name, _ := DialectOf(s.manager.Config().Type)
	return name
}

// Query runs a rendered statement with bound args and returns an open cursor.
// op names the operation in trace output and errors.
func (s *Store) Query(ctx context.Context, op, clause string, args []interface{}) (*Cursor, error) {
	db, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}

	Trace(op, clause, len(args))
	start := time.Now()
	rows, err := db.DB.QueryContext(ctx, clause, args...)
	s.slow.observe(op, clause, time.Since(start))
	if err != nil {
		return nil, NewExecutionError(op, clause, len(args), err)
	}

	s.cursors.Add(1)
	cur, err := newCursor(rows, func() { s.cursors.Add(-1) })
	if err != nil {
		return nil, NewExecutionError(op, clause, len(args), err)
	}
	return cur, nil
}

// Exec runs a rendered statement with bound args on the write handle.
func (s *Store) Exec(ctx context.Context, op, clause string, args ...interface{}) (sql.Result, error) {
	db, err := s.Write(ctx)
	if err != nil {
		return nil, err
	}

	Trace(op, clause, len(args))
	start := time.Now()
	res, err := db.DB.ExecContext(ctx, clause, args...)
	s.slow.observe(op, clause, time.Since(start))
	if err != nil {
		return nil, NewExecutionError(op, clause, len(args), err)
	}
	return res, nil
}

// OpenCursors reports cursors opened through Query and not yet closed.
func (s *Store) OpenCursors() int64 {
	return s.cursors.Load()
}

// Stats returns pool statistics plus the live cursor count.
func (s *Store) Stats() *DBStats {
	stats := s.manager.GetStats()
	stats.OpenCursors = s.OpenCursors()
	return stats
}

// Migrate brings the tables of registry to their declared versions.
func (s *Store) Migrate(ctx context.Context, registry TableRegistry) error {
	db, err := s.Write(ctx)
	if err != nil {
		return err
	}
	return NewMigrationManagerWithRegistry(db, GetLogger(), registry).RunMigrations(ctx)
}

// Close releases the pool. Later calls, and calls on a nil store, do nothing.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	Trace("close", "", 0)
	return s.manager.Disconnect()
}

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
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun/dialect"
)

func TestIsSqlError(t *testing.T) {
	cases := []struct {
		err  error
		is   bool
		kind SQLError
	}{
		{nil, false, UnknownErr},
		{errors.New("boom"), false, UnknownErr},
		{errors.New("SQL logic error: no such table: notes (1)"), true, NoTableErr},
		{errors.New("no such column: titel"), true, NoColumnErr},
		{errors.New(`ERROR: relation "notes" does not exist (SQLSTATE 42P01)`), true, NoTableErr},
		{errors.New("UNIQUE constraint failed: notes.id"), true, DuplicateKeyErr},
		{errors.New("NOT NULL constraint failed: notes.title"), true, NotNullViolationErr},
		{fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}), true, DuplicateKeyErr},
		{&mysql.MySQLError{Number: 9999}, true, UnknownErr},
	}
	for _, c := range cases {
		is, kind := IsSqlError(c.err)
		if is != c.is || kind != c.kind {
			t.Errorf("IsSqlError(%v) = %v, %s; want %v, %s", c.err, is, kind, c.is, c.kind)
		}
	}
}

func TestExecutionErrorUnwraps(t *testing.T) {
	err := error(NewExecutionError("find", "SELECT 1", 2, sql.ErrNoRows))
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("errors.Is lost the cause: %v", err)
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Op != "find" || ee.Params != 2 {
		t.Fatalf("errors.As = %+v", ee)
	}

	de := error(&DecodeError{Row: 3, Err: sql.ErrNoRows})
	if !errors.Is(de, sql.ErrNoRows) || de.Error() != "decode row 3: "+sql.ErrNoRows.Error() {
		t.Fatalf("decode error = %v", de)
	}
}

func TestDialectOf(t *testing.T) {
	for in, want := range map[string]dialect.Name{
		"sqlite":   dialect.SQLite,
		"SQLite3":  dialect.SQLite,
		"postgres": dialect.PG,
		"pg":       dialect.PG,
		"mysql":    dialect.MySQL,
	} {
		got, err := DialectOf(in)
		if err != nil || got != want {
			t.Errorf("DialectOf(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := DialectOf("oracle"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown type: err = %v", err)
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := OpenMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	if store.Dialect() != dialect.SQLite {
		t.Fatalf("dialect = %v", store.Dialect())
	}

	if _, err := store.Exec(ctx, "create", "CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER)"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Exec(ctx, "insert", "INSERT INTO kv (k, v) VALUES (?, ?), (?, ?)", "a", 1, "b", 2); err != nil {
		t.Fatal(err)
	}

	cur, err := store.Query(ctx, "list", "SELECT k, v FROM kv ORDER BY k", nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.OpenCursors() != 1 {
		t.Fatalf("open cursors = %d", store.OpenCursors())
	}
	if got := cur.Columns(); !reflect.DeepEqual(got, []string{"k", "v"}) {
		t.Fatalf("columns = %v", got)
	}
	var keys []string
	for cur.Next() {
		row, err := cur.Row()
		if err != nil {
			t.Fatal(err)
		}
		k, _ := row.String("k")
		keys = append(keys, k)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("keys = %v", keys)
	}

	Release(cur)
	Release(cur)
	if !cur.Closed() || store.OpenCursors() != 0 {
		t.Fatalf("cursor not released: closed=%v open=%d", cur.Closed(), store.OpenCursors())
	}
	Release(nil)

	if n, err := store.CountRows(ctx, "kv"); err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}
	if stats := store.Stats(); stats.OpenCursors != 0 {
		t.Fatalf("stats open cursors = %d", stats.OpenCursors)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := store.Read(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("read after close: err = %v", err)
	}
	var nilStore *Store
	if err := nilStore.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestHealthLoopReconnectsUntilDisconnect(t *testing.T) {
	cfg := MemoryConfig()
	cfg.HealthCheckInterval = 5 * time.Millisecond
	cfg.EnableReconnect = true
	cfg.ReconnectInterval = time.Millisecond
	cfg.MaxReconnectTries = 100
	dm := NewDatabaseManager(cfg).(*defaultDatabaseManager)

	if err := dm.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := dm.GetDB()
	_ = dm.GetSQLDB().Close()

	deadline := time.Now().Add(2 * time.Second)
	for dm.GetDB() == first || dm.GetDB() == nil {
		if time.Now().After(deadline) {
			t.Fatal("health loop did not reconnect a dead connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := dm.Disconnect(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if dm.GetDB() != nil {
		t.Fatal("connection reopened after disconnect")
	}
	dm.mu.RLock()
	stopped := dm.stopHealth == nil
	dm.mu.RUnlock()
	if !stopped {
		t.Fatal("health loop still registered after disconnect")
	}
}

func TestReopenAfterDisconnectIsRefused(t *testing.T) {
	dm := NewDatabaseManager(MemoryConfig()).(*defaultDatabaseManager)
	loop, cancel := context.WithCancel(context.Background())
	cancel()

	if err := dm.reopen(loop, context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("reopen err = %v", err)
	}
	if dm.GetDB() != nil {
		t.Fatal("reopen connected behind a cancelled health loop")
	}
}

func TestQueryErrorIsClassified(t *testing.T) {
	store, err := OpenMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	_, err = store.Query(context.Background(), "list", "SELECT * FROM missing WHERE id = ?", []interface{}{1})
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Kind != NoTableErr || ee.Params != 1 {
		t.Fatalf("err = %v", err)
	}
	if store.OpenCursors() != 0 {
		t.Fatalf("open cursors = %d", store.OpenCursors())
	}
}

func TestMigrationsCreateThenUpgrade(t *testing.T) {
	ctx := context.Background()
	store, err := OpenMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	v1 := TableDefinition{
		Name:   "events",
		Create: "CREATE TABLE events (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)",
	}
	registry := NewTableRegistry()
	if err := registry.Register(v1); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx, registry); err != nil {
		t.Fatal(err)
	}
	// A second run is a no-op.
	if err := store.Migrate(ctx, registry); err != nil {
		t.Fatal(err)
	}

	v2 := v1
	v2.Version = 3
	v2.Upgrades = map[int][]string{
		2: {"ALTER TABLE events ADD COLUMN created INTEGER NOT NULL DEFAULT 0"},
		3: {"ALTER TABLE events ADD COLUMN updated INTEGER NOT NULL DEFAULT 0"},
	}
	if err := registry.Register(v2); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx, registry); err != nil {
		t.Fatal(err)
	}

	cols, err := store.ListColumns(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cols, []string{"id", "name", "created", "updated"}) {
		t.Fatalf("columns = %v", cols)
	}

	db, err := store.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mm := NewMigrationManagerWithRegistry(db, nil, registry)
	if v, err := mm.AppliedVersion(ctx, db, "events"); err != nil || v != 3 {
		t.Fatalf("applied version = %d, %v", v, err)
	}
	applied, err := mm.GetAppliedMigrations(ctx)
	if err != nil || len(applied) != 1 || applied[0].Name != "events" {
		t.Fatalf("applied = %+v, %v", applied, err)
	}
}

func TestMigrationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store, err := OpenMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	registry := NewTableRegistry()
	_ = registry.Register(TableDefinition{Name: "broken", Create: "CREATE TABLE broken (id INTEGER,"})
	err = store.Migrate(ctx, registry)
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Op != "migrate" {
		t.Fatalf("err = %v", err)
	}
	tables, err := store.ListTables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tables, []string{"tablelab_migrations"}) {
		t.Fatalf("tables = %v", tables)
	}
}

func TestTableRegistry(t *testing.T) {
	r := NewTableRegistry()
	for _, def := range []TableDefinition{
		{Name: "b", Priority: 2, Create: "CREATE TABLE b (id INTEGER)"},
		{Name: "c", Priority: 1, Create: "CREATE TABLE c (id INTEGER)"},
		{Name: "a", Priority: 2, Create: "CREATE TABLE a (id INTEGER)"},
	} {
		if err := r.Register(def); err != nil {
			t.Fatal(err)
		}
	}
	var order []string
	for _, def := range r.Tables() {
		order = append(order, def.Name)
	}
	if !reflect.DeepEqual(order, []string{"c", "a", "b"}) {
		t.Fatalf("order = %v", order)
	}

	bad := []TableDefinition{
		{Create: "CREATE TABLE x (id INTEGER)"},
		{Name: "x"},
		{Name: "x", Create: "CREATE TABLE x (id INTEGER)", Upgrades: map[int][]string{2: {"SELECT 1"}}},
	}
	for _, def := range bad {
		if err := r.Register(def); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Register(%+v) = %v", def, err)
		}
	}
}

func TestLoadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `tables:
  - name: notes
    priority: 1
    version: 2
    create: CREATE TABLE notes (id INTEGER PRIMARY KEY, title TEXT, created INTEGER)
    upgrades:
      2:
        - ALTER TABLE notes ADD COLUMN created INTEGER
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	defs, err := LoadSchemaFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != "notes" || defs[0].CurrentVersion() != 2 || len(defs[0].Upgrades[2]) != 1 {
		t.Fatalf("defs = %+v", defs)
	}

	r := NewTableRegistry()
	if err := RegisterSchemaFile(r, path); err != nil || len(r.Tables()) != 1 {
		t.Fatalf("register schema file: %v", err)
	}
	if _, err := LoadSchemaFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing schema file loaded")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablelab.yaml")
	content := `connection:
  type: sqlite
  dbname: lab.db
  max_open_conns: 3
  slow_query_time: 250ms
schema:
  migrate_on_startup: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TESTLAB_CONNECTION_DBNAME", "override.db")

	cfg, err := LoadConfig(path, "TESTLAB_")
	if err != nil {
		t.Fatal(err)
	}
	c := cfg.ConnectionConfig
	if c.Type != "sqlite" || c.DBName != "override.db" || c.MaxOpenConns != 3 || c.SlowQueryTime != 250*time.Millisecond {
		t.Fatalf("connection = %+v", c)
	}
	if !cfg.SchemaConfig.MigrateOnStartup {
		t.Fatal("schema.migrate_on_startup not read")
	}
	if c.MaxIdleConns != DefaultConnectionConfig().MaxIdleConns {
		t.Fatalf("default max idle conns lost: %d", c.MaxIdleConns)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"), ""); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing file: err = %v", err)
	}
}

type panickingLogger struct{}

func (panickingLogger) SetLevel(LogLevel)            {}
func (panickingLogger) Debug(string, ...interface{}) { panic("debug") }
func (panickingLogger) Info(string, ...interface{})  { panic("info") }
func (panickingLogger) Warn(string, ...interface{})  { panic("warn") }
func (panickingLogger) Error(string, ...interface{}) { panic("error") }

func TestTraceSurvivesFailingLogger(t *testing.T) {
	globalLoggerMu.Lock()
	prev := globalLogger
	globalLogger = panickingLogger{}
	globalLoggerMu.Unlock()
	wasEnabled := TraceEnabled()
	EnableTrace(true)
	defer func() {
		EnableTrace(wasEnabled)
		globalLoggerMu.Lock()
		globalLogger = prev
		globalLoggerMu.Unlock()
	}()

	Trace("list", "SELECT 1", 0, "table", "notes")
}

func TestFormatFields(t *testing.T) {
	if got := formatFields("table", "notes", "rows", 2, "dangling"); got != " table=notes rows=2" {
		t.Fatalf("formatFields = %q", got)
	}
	if got := formatFields(); got != "" {
		t.Fatalf("empty = %q", got)
	}
}

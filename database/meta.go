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

	"github.com/uptrace/bun/dialect"
)

// Catalog queries take their bound value as the only placeholder.
var (
	tableListQueries = map[dialect.Name]string{
		dialect.SQLite: "SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%' ORDER BY name",
		dialect.PG:     "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = $1 ORDER BY table_name",
		dialect.MySQL:  "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = ? ORDER BY table_name",
	}
	columnListQueries = map[dialect.Name]string{
		dialect.SQLite: "SELECT name FROM pragma_table_info(?) ORDER BY cid",
		dialect.PG:     "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position",
		dialect.MySQL:  "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position",
	}
)

func tableTypeArg(name dialect.Name, view bool) string {
	switch {
	case name == dialect.SQLite && view:
		return "view"
	case name == dialect.SQLite:
		return "table"
	case view:
		return "VIEW"
	default:
		return "BASE TABLE"
	}
}

// ListTables returns the user tables of the connected database, sorted.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	name := s.Dialect()
	return s.queryStrings(ctx, "tables", tableListQueries[name], tableTypeArg(name, false))
}

// ListViews returns the views of the connected database, sorted.
func (s *Store) ListViews(ctx context.Context) ([]string, error) {
	name := s.Dialect()
	return s.queryStrings(ctx, "views", tableListQueries[name], tableTypeArg(name, true))
}

// ListColumns returns the columns of table in declaration order.
func (s *Store) ListColumns(ctx context.Context, table string) ([]string, error) {
	return s.queryStrings(ctx, "columns", columnListQueries[s.Dialect()], table)
}

// CountRows returns the number of rows in table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	db, err := s.Read(ctx)
	if err != nil {
		return 0, err
	}
	Trace("count", table, 0)
	n, err := db.NewSelect().Table(table).Count(ctx)
	if err != nil {
		return 0, NewExecutionError("count", table, 0, err)
	}
	return n, nil
}

func (s *Store) queryStrings(ctx context.Context, op, clause string, arg interface{}) ([]string, error) {
	if clause == "" {
		return nil, fmt.Errorf("%w: %s not supported for %s", ErrConfiguration, op, s.Dialect())
	}
	cur, err := s.Query(ctx, op, clause, []interface{}{arg})
	if err != nil {
		return nil, err
	}
	defer Release(cur)

	var out []string
	for cur.Next() {
		row, err := cur.Row()
		if err != nil {
			return nil, NewExecutionError(op, clause, 1, err)
		}
		v, err := row.String(row.Columns()[0])
		if err != nil {
			return nil, NewExecutionError(op, clause, 1, err)
		}
		out = append(out, v)
	}
	if err := cur.Err(); err != nil {
		return nil, NewExecutionError(op, clause, 1, err)
	}
	return out, nil
}

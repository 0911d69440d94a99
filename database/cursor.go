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
	"database/sql"
	"io"
	"sync/atomic"

	"github.com/tomoncle/tablelab/types"
)

// Cursor is a forward-only view over one result set. The executor call that
// opens a cursor owns it and must Close it on every path; Close is idempotent.
type Cursor struct {
	rows    *sql.Rows
	columns []string
	closed  atomic.Bool
	onClose func()
}

func newCursor(rows *sql.Rows, onClose func()) (*Cursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		if onClose != nil {
			onClose()
		}
		return nil, err
	}
	return &Cursor{rows: rows, columns: columns, onClose: onClose}, nil
}

// Columns returns the result column names in select order.
func (c *Cursor) Columns() []string {
	return append([]string(nil), c.columns...)
}

// Next advances to the next row, reporting false at the end or on error.
func (c *Cursor) Next() bool {
	if c == nil || c.closed.Load() {
		return false
	}
	return c.rows.Next()
}

// Row scans the current row.
func (c *Cursor) Row() (types.Row, error) {
	values := make([]interface{}, len(c.columns))
	dest := make([]interface{}, len(c.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return nil, err
	}
	return types.NewRow(c.columns, values), nil
}

// Err reports an error met during iteration.
func (c *Cursor) Err() error {
	if c == nil {
		return nil
	}
	return c.rows.Err()
}

func (c *Cursor) Closed() bool {
	return c == nil || c.closed.Load()
}

func (c *Cursor) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.rows.Close()
	if c.onClose != nil {
		c.onClose()
	}
	return err
}

// Release closes h if it is non-nil, ignoring handles already closed.
func Release(h io.Closer) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		GetLogger().Warn("release failed", "error", err)
	}
}

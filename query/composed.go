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

package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tomoncle/tablelab/database"
)

// Composed is a fully assembled SELECT. Values live only in Args; every
// clause string holds "?" placeholders in Args order.
type Composed struct {
	Table   string
	Columns []string
	Where   string
	Args    []interface{}
	OrderBy string
	GroupBy string
	Having  string
	Limit   int
	Offset  int
}

// Validate checks that the placeholders in Table and Where match Args.
// GroupBy and Having are caller-trusted text and are not inspected.
func (c *Composed) Validate() error {
	want := CountPlaceholders(c.Table) + CountPlaceholders(c.Where)
	if want != len(c.Args) {
		return fmt.Errorf("%w: %d placeholders in %q, %d params", database.ErrBinding, want, c.Where, len(c.Args))
	}
	return nil
}

// SQL renders the statement with "?" placeholders.
func (c *Composed) SQL() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(c.Columns) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(c.Columns, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(c.Table)
	if c.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(c.Where)
	}
	if c.GroupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(c.GroupBy)
	}
	if c.Having != "" {
		b.WriteString(" HAVING ")
		b.WriteString(c.Having)
	}
	if c.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(c.OrderBy)
	}
	if c.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(c.Limit))
		if c.Offset > 0 {
			b.WriteString(" OFFSET ")
			b.WriteString(strconv.Itoa(c.Offset))
		}
	}
	return b.String()
}

// Build renders the statement in the placeholder style of the target driver.
func (c *Composed) Build(style Style) string {
	return Rebind(style, c.SQL())
}

// WithLimit returns a copy limited to n rows.
func (c *Composed) WithLimit(n int) *Composed {
	cp := *c
	cp.Limit = n
	return &cp
}

// Page returns a copy restricted to one page.
func (c *Composed) Page(offset, size int) *Composed {
	cp := *c
	cp.Limit = size
	cp.Offset = offset
	return &cp
}

// Count returns a query yielding the number of rows c would match, ignoring
// ordering and paging. Grouped queries are counted by group.
func (c *Composed) Count() *Composed {
	if c.GroupBy == "" {
		return &Composed{
			Table:   c.Table,
			Columns: []string{"COUNT(*) AS total"},
			Where:   c.Where,
			Args:    c.Args,
		}
	}
	inner := &Composed{
		Table:   c.Table,
		Columns: []string{c.GroupBy},
		Where:   c.Where,
		Args:    c.Args,
		GroupBy: c.GroupBy,
		Having:  c.Having,
	}
	return &Composed{
		Table:   "(" + inner.SQL() + ") AS grouped",
		Columns: []string{"COUNT(*) AS total"},
		Args:    c.Args,
	}
}

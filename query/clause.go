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
	"strings"

	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/types"
)

// Search is the per-call part of a query. Zero values defer to the descriptor.
type Search struct {
	// Table overrides the descriptor table; it is used verbatim and may be a
	// view or a caller-built join.
	Table string
	// Columns are the result columns, "*" when nil.
	Columns []string

	Query         string
	SearchColumns []string
	Exact         bool
	FoldCase      bool
	ID            int64
	Range         *types.TimeRange

	// OrderByTime sorts by the descriptor time column, otherwise rows are
	// sorted case-insensitively by OrderColumn or the descriptor default.
	OrderByTime bool
	Ascending   bool
	OrderColumn string

	GroupBy string
	Having  string
	Limit   int
	// Offset is applied only together with a limit.
	Offset int
}

// Validate rejects descriptors no query can be built from.
func Validate(desc types.Descriptor) error {
	if strings.TrimSpace(desc.Table) == "" {
		return fmt.Errorf("%w: descriptor has no table", database.ErrConfiguration)
	}
	return nil
}

// Assemble combines the descriptor defaults with s into one query.
func Assemble(desc types.Descriptor, s Search) (*Composed, error) {
	if err := Validate(desc); err != nil {
		return nil, err
	}
	if s.Range != nil && s.ID <= 0 && desc.TimeColumn == "" {
		return nil, fmt.Errorf("%w: time range on %s without a time column", database.ErrConfiguration, desc.Table)
	}

	c := &Composed{
		Table:   firstNonEmpty(s.Table, desc.Table),
		Columns: s.Columns,
		GroupBy: firstNonEmpty(s.GroupBy, desc.GroupBy),
		Having:  firstNonEmpty(s.Having, desc.Having),
		Limit:   desc.Limit,
		Offset:  s.Offset,
	}
	if s.Limit > 0 {
		c.Limit = s.Limit
	}

	p := BuildPredicate(PredicateInput{
		Query:      s.Query,
		Columns:    s.SearchColumns,
		Defaults:   desc.SearchColumns,
		Exact:      s.Exact,
		FoldCase:   s.FoldCase,
		ID:         s.ID,
		Key:        desc.Key(),
		TimeColumn: desc.TimeColumn,
		Range:      s.Range,
	})
	c.Where, c.Args = p.Where, p.Args
	c.OrderBy = orderBy(desc, s)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func orderBy(desc types.Descriptor, s Search) string {
	direction := " DESC"
	if s.Ascending {
		direction = " ASC"
	}
	if s.OrderByTime {
		if desc.TimeColumn == "" {
			return ""
		}
		return desc.TimeColumn + direction
	}
	column := firstNonEmpty(s.OrderColumn, desc.OrderColumn)
	if column == "" {
		return ""
	}
	return "lower(" + column + ")" + direction
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

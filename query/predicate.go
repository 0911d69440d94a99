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
	"strings"

	"github.com/tomoncle/tablelab/types"
)

// PredicateInput collects everything a WHERE clause may be built from.
type PredicateInput struct {
	Query string
	// Columns are the candidate columns for Query. nil selects Defaults;
	// an empty non-nil slice disables the text predicate.
	Columns  []string
	Defaults []string
	Exact    bool
	// FoldCase lower-cases the column side of fuzzy matches, for engines
	// whose LIKE is case-sensitive.
	FoldCase bool

	// ID > 0 turns the predicate into a key lookup and ignores everything else.
	ID  int64
	Key string

	TimeColumn string
	Range      *types.TimeRange
}

// Predicate is a WHERE clause with "?" placeholders and its values in order.
type Predicate struct {
	Where string
	Args  []interface{}
}

func (p Predicate) Empty() bool {
	return p.Where == ""
}

// BuildPredicate turns structured search input into a parameterised clause.
// Exact matching ANDs "col = ?" over the columns with the raw query as value.
// Fuzzy matching ORs "col LIKE ?" with "%lower(query)%", or "lower(col) LIKE ?"
// under FoldCase. A time range is
// ANDed onto the whole text clause as "col > ? AND col < ?" in Unix millis.
func BuildPredicate(in PredicateInput) Predicate {
	if in.ID > 0 {
		key := in.Key
		if key == "" {
			key = types.IDColumn
		}
		return Predicate{Where: key + " = ?", Args: []interface{}{in.ID}}
	}

	var p Predicate
	columns := in.Columns
	if columns == nil {
		columns = in.Defaults
	}

	if in.Query != "" && len(columns) > 0 {
		parts := make([]string, 0, len(columns))
		if in.Exact {
			for _, c := range columns {
				parts = append(parts, c+" = ?")
				p.Args = append(p.Args, in.Query)
			}
			p.Where = strings.Join(parts, " AND ")
		} else {
			pattern := "%" + strings.ToLower(in.Query) + "%"
			for _, c := range columns {
				if in.FoldCase {
					c = "lower(" + c + ")"
				}
				parts = append(parts, c+" LIKE ?")
				p.Args = append(p.Args, pattern)
			}
			p.Where = strings.Join(parts, " OR ")
		}
	}

	if in.Range != nil && in.TimeColumn != "" {
		start, end := in.Range.Millis()
		between := in.TimeColumn + " > ? AND " + in.TimeColumn + " < ?"
		if p.Where == "" {
			p.Where = between
		} else {
			p.Where = "(" + p.Where + ") AND " + between
		}
		p.Args = append(p.Args, start, end)
	}
	return p
}

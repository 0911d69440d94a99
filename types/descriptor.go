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

package types

import (
	"time"
)

// Well-known column names shared by most tables.
const (
	IDColumn       = "id"
	ParentIDColumn = "parent_id"
	NameColumn     = "name"
	CreatedColumn  = "created"
	UpdatedColumn  = "updated"
)

// Descriptor is the static per-entity configuration of a table.
//
// Table is required. SearchColumns are used when a search does not name its
// own candidate columns. TimeColumn drives chronological ordering and range
// filters, OrderColumn alphabetical ordering. GroupBy, Having and Limit are
// defaults applied when a call does not override them. Column names are not
// validated here; a bad name surfaces as a store error.
type Descriptor struct {
	Table         string
	SearchColumns []string
	TimeColumn    string
	OrderColumn   string
	GroupBy       string
	Having        string
	Limit         int
	KeyColumn     string // defaults to "id"
}

// Key returns the primary key column.
func (d Descriptor) Key() string {
	if d.KeyColumn == "" {
		return IDColumn
	}
	return d.KeyColumn
}

// Clone returns a deep copy so callers cannot mutate a live descriptor.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.SearchColumns != nil {
		c.SearchColumns = append([]string(nil), d.SearchColumns...)
	}
	return c
}

// TimeRange is an open interval (Start, End) over a table's time column.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func NewTimeRange(start, end time.Time) *TimeRange {
	return &TimeRange{Start: start, End: end}
}

// Millis returns both endpoints as Unix milliseconds, the stored representation.
func (r *TimeRange) Millis() (int64, int64) {
	return r.Start.UnixMilli(), r.End.UnixMilli()
}

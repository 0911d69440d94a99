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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Fields maps column names to values for inserts and updates.
type Fields map[string]interface{}

// Mapper converts between an application record and table rows.
type Mapper[T any] interface {
	// Encode returns the column values to write for record.
	Encode(record *T) (Fields, error)

	// Decode builds a record from the current row.
	Decode(row Row) (*T, error)
}

// MapperFuncs adapts a pair of functions to the Mapper interface.
type MapperFuncs[T any] struct {
	EncodeFunc func(record *T) (Fields, error)
	DecodeFunc func(row Row) (*T, error)
}

func (m MapperFuncs[T]) Encode(record *T) (Fields, error) {
	if m.EncodeFunc == nil {
		return nil, fmt.Errorf("mapper has no encode capability")
	}
	return m.EncodeFunc(record)
}

func (m MapperFuncs[T]) Decode(row Row) (*T, error) {
	if m.DecodeFunc == nil {
		return nil, fmt.Errorf("mapper has no decode capability")
	}
	return m.DecodeFunc(row)
}

// Row is a read-only view of one result row addressed by column name.
type Row interface {
	Columns() []string
	Has(column string) bool
	Value(column string) interface{}
	String(column string) (string, error)
	Int64(column string) (int64, error)
	Int(column string) (int, error)
	Float64(column string) (float64, error)
	Bool(column string) (bool, error)
	Bytes(column string) ([]byte, error)
	// Time reads a Unix-millisecond column, or a native timestamp if the driver returns one.
	Time(column string) (time.Time, error)
}

type row struct {
	columns []string
	index   map[string]int
	values  []interface{}
}

// NewRow wraps scanned driver values. values must be positionally aligned with columns.
func NewRow(columns []string, values []interface{}) Row {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}
	return &row{columns: columns, index: index, values: values}
}

func (r *row) Columns() []string { return r.columns }

func (r *row) Has(column string) bool {
	_, ok := r.index[column]
	return ok
}

func (r *row) Value(column string) interface{} {
	i, ok := r.index[column]
	if !ok {
		return nil
	}
	return r.values[i]
}

func (r *row) lookup(column string) (interface{}, error) {
	i, ok := r.index[column]
	if !ok {
		return nil, fmt.Errorf("column %q not in result set", column)
	}
	if b, isBytes := r.values[i].([]byte); isBytes {
		return string(b), nil
	}
	return r.values[i], nil
}

func (r *row) String(column string) (string, error) {
	v, err := r.lookup(column)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

func (r *row) Int64(column string) (int64, error) {
	v, err := r.lookup(column)
	if err != nil {
		return 0, err
	}
	return toInt64(column, v, 64)
}

func (r *row) Int(column string) (int, error) {
	v, err := r.lookup(column)
	if err != nil {
		return 0, err
	}
	n, err := toInt64(column, v, strconv.IntSize)
	return int(n), err
}

// toInt64 reads text as base 10, so "010" is ten rather than octal eight.
func toInt64(column string, v interface{}, bits int) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToInt64E(v)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", column, err)
	}
	return n, nil
}

func (r *row) Float64(column string) (float64, error) {
	v, err := r.lookup(column)
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(v)
}

func (r *row) Bool(column string) (bool, error) {
	v, err := r.lookup(column)
	if err != nil {
		return false, err
	}
	return cast.ToBoolE(v)
}

func (r *row) Bytes(column string) ([]byte, error) {
	i, ok := r.index[column]
	if !ok {
		return nil, fmt.Errorf("column %q not in result set", column)
	}
	switch v := r.values[i].(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("column %q holds %T, not bytes", column, v)
	}
}

func (r *row) Time(column string) (time.Time, error) {
	v, err := r.lookup(column)
	if err != nil {
		return time.Time{}, err
	}
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	ms, err := toInt64(column, v, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

type fieldsMapper struct{}

// FieldsMapper decodes every column of a row into Fields and encodes Fields
// as-is. It is the mapper for ad-hoc and aggregate queries.
func FieldsMapper() Mapper[Fields] { return fieldsMapper{} }

func (fieldsMapper) Encode(record *Fields) (Fields, error) {
	if record == nil {
		return nil, fmt.Errorf("nil fields")
	}
	out := make(Fields, len(*record))
	for k, v := range *record {
		out[k] = v
	}
	return out, nil
}

func (fieldsMapper) Decode(row Row) (*Fields, error) {
	out := make(Fields, len(row.Columns()))
	for _, c := range row.Columns() {
		v := row.Value(c)
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[c] = v
	}
	return &out, nil
}

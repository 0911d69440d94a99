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

package tablelab

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/query"
	"github.com/tomoncle/tablelab/repository"
	"github.com/tomoncle/tablelab/types"
)

// Table gives create, read, update, delete and search access to one table
// described by a Descriptor, with rows converted by a Mapper. A Table holds no
// state besides its configuration; many Tables may share one Store.
type Table[T any] struct {
	store  *database.Store
	desc   types.Descriptor
	mapper types.Mapper[T]
}

// New binds desc and mapper to store. The descriptor is copied.
func New[T any](store *database.Store, desc types.Descriptor, mapper types.Mapper[T]) (*Table[T], error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", database.ErrConfiguration)
	}
	if mapper == nil {
		return nil, fmt.Errorf("%w: nil mapper for %s", database.ErrConfiguration, desc.Table)
	}
	if err := query.Validate(desc); err != nil {
		return nil, err
	}
	return &Table[T]{store: store, desc: desc.Clone(), mapper: mapper}, nil
}

// NewDefault binds to the process-wide store opened by database.InitDB.
func NewDefault[T any](desc types.Descriptor, mapper types.Mapper[T]) (*Table[T], error) {
	return New(database.GetStore(), desc, mapper)
}

// NewManyTable returns a Table over a many-to-many link table whose key
// columns are left and right.
func NewManyTable(store *database.Store, table, left, right string) (*Table[types.Pair], error) {
	desc := types.Descriptor{
		Table:         table,
		SearchColumns: []string{left, right},
		TimeColumn:    types.CreatedColumn,
	}
	return New(store, desc, types.PairMapper(left, right))
}

// Descriptor returns a copy of the table configuration.
func (t *Table[T]) Descriptor() types.Descriptor {
	return t.desc.Clone()
}

func (t *Table[T]) Store() *database.Store {
	return t.store
}

func (t *Table[T]) Save(ctx context.Context, record *T) error {
	_, err := t.SaveWithResponse(ctx, record)
	return err
}

// SaveWithResponse inserts record and returns its generated key.
func (t *Table[T]) SaveWithResponse(ctx context.Context, record *T) (int64, error) {
	fields, err := t.encode(record)
	if err != nil {
		return 0, err
	}
	return repository.Insert(ctx, t.store, t.desc.Table, t.desc.Key(), fields)
}

// SaveBatch inserts all records in one transaction.
func (t *Table[T]) SaveBatch(ctx context.Context, records []*T) error {
	rows := make([]types.Fields, 0, len(records))
	for _, r := range records {
		fields, err := t.encode(r)
		if err != nil {
			return err
		}
		rows = append(rows, fields)
	}
	return repository.InsertBatch(ctx, t.store, t.desc.Table, t.desc.Key(), rows)
}

// Upsert inserts record, or overwrites the update columns of the row that
// collides on the conflict columns (the key when none are given).
func (t *Table[T]) Upsert(ctx context.Context, record *T, conflict, update []string) error {
	fields, err := t.encode(record)
	if err != nil {
		return err
	}
	return repository.Upsert(ctx, t.store, t.desc.Table, t.desc.Key(), fields, conflict, update)
}

func (t *Table[T]) Update(ctx context.Context, record *T, id int64) error {
	_, err := t.UpdateWithResponse(ctx, record, id)
	return err
}

// UpdateWithResponse rewrites the row with key id and returns the rows affected.
func (t *Table[T]) UpdateWithResponse(ctx context.Context, record *T, id int64) (int64, error) {
	fields, err := t.encode(record)
	if err != nil {
		return 0, err
	}
	return repository.Update(ctx, t.store, t.desc.Table, t.desc.Key(), id, fields)
}

func (t *Table[T]) Delete(ctx context.Context, id int64) error {
	_, err := repository.DeleteWhere(ctx, t.store, t.desc.Table, t.desc.Key(), id)
	return err
}

// DeleteBy removes every row whose column equals value.
func (t *Table[T]) DeleteBy(ctx context.Context, column string, value interface{}) (int64, error) {
	return repository.DeleteWhere(ctx, t.store, t.desc.Table, column, value)
}

// Find returns the row with key id, or nil when there is none.
func (t *Table[T]) Find(ctx context.Context, id int64) (*T, error) {
	return t.SelectOne(ctx, query.Search{ID: id})
}

// Like returns the first row where any column contains query, ignoring case.
// On PostgreSQL the columns are lower-cased to match.
func (t *Table[T]) Like(ctx context.Context, q string, columns []string) (*T, error) {
	return t.SelectOne(ctx, query.Search{Query: q, SearchColumns: columns})
}

// Exact returns the first row where every column equals query.
func (t *Table[T]) Exact(ctx context.Context, q string, columns []string) (*T, error) {
	return t.SelectOne(ctx, query.Search{Query: q, SearchColumns: columns, Exact: true})
}

// FindRange returns the first matching row created strictly inside r.
func (t *Table[T]) FindRange(ctx context.Context, q string, columns []string, exact bool, r *types.TimeRange) (*T, error) {
	return t.SelectOne(ctx, query.Search{Query: q, SearchColumns: columns, Exact: exact, Range: r})
}

// Random returns one row of the default result chosen uniformly, or nil when
// that result is empty. Descriptor defaults such as GroupBy and Limit apply.
func (t *Table[T]) Random(ctx context.Context) (*T, error) {
	c, err := t.assemble(query.Search{})
	if err != nil {
		return nil, err
	}
	n, err := repository.Count(ctx, t.store, c)
	if err != nil {
		return nil, err
	}
	if c.Limit > 0 && n > c.Limit {
		n = c.Limit
	}
	if n == 0 {
		return nil, nil
	}
	return repository.FindOne(ctx, t.store, c.Page(rand.Intn(n), 1), t.mapper)
}

// SelectOne runs s limited to one row.
func (t *Table[T]) SelectOne(ctx context.Context, s query.Search) (*T, error) {
	c, err := t.assemble(s)
	if err != nil {
		return nil, err
	}
	return repository.FindOne(ctx, t.store, c, t.mapper)
}

func (t *Table[T]) List(ctx context.Context, orderByTime, ascending bool) ([]*T, error) {
	return t.Select(ctx, query.Search{OrderByTime: orderByTime, Ascending: ascending})
}

// ListQuery lists rows whose default search columns contain q.
func (t *Table[T]) ListQuery(ctx context.Context, q string, orderByTime, ascending bool) ([]*T, error) {
	return t.Select(ctx, listSearch(nil, "", q, false, orderByTime, ascending))
}

// ListLike lists rows where any of columns contains q, ignoring case.
func (t *Table[T]) ListLike(ctx context.Context, columns []string, orderColumn, q string, orderByTime, ascending bool) ([]*T, error) {
	return t.Select(ctx, listSearch(columns, orderColumn, q, false, orderByTime, ascending))
}

// ListExact lists rows where every one of columns equals q.
func (t *Table[T]) ListExact(ctx context.Context, columns []string, orderColumn, q string, orderByTime, ascending bool) ([]*T, error) {
	return t.Select(ctx, listSearch(columns, orderColumn, q, true, orderByTime, ascending))
}

// Children lists rows pointing at parentID through columns (parent_id when nil).
func (t *Table[T]) Children(ctx context.Context, parentID int64, columns []string, orderByTime, ascending bool) ([]*T, error) {
	return t.Select(ctx, childSearch(parentID, columns, orderByTime, ascending))
}

// Select runs s and returns every matching row in order.
func (t *Table[T]) Select(ctx context.Context, s query.Search) ([]*T, error) {
	c, err := t.assemble(s)
	if err != nil {
		return nil, err
	}
	return repository.FindAll(ctx, t.store, c, t.mapper)
}

// Page returns one page of s with the total match count.
func (t *Table[T]) Page(ctx context.Context, s query.Search, req *types.PageRequest) (*types.Pagination[T], error) {
	c, err := t.assemble(s)
	if err != nil {
		return nil, err
	}
	return repository.Page(ctx, t.store, c, req, t.mapper)
}

// assemble composes s against the descriptor. PostgreSQL LIKE is
// case-sensitive, so fuzzy matches fold the column case there.
func (t *Table[T]) assemble(s query.Search) (*query.Composed, error) {
	if t.store.Dialect() == dialect.PG {
		s.FoldCase = true
	}
	return query.Assemble(t.desc, s)
}

func listSearch(columns []string, orderColumn, q string, exact, orderByTime, ascending bool) query.Search {
	return query.Search{
		Query:         q,
		SearchColumns: columns,
		Exact:         exact,
		OrderColumn:   orderColumn,
		OrderByTime:   orderByTime,
		Ascending:     ascending,
	}
}

func childSearch(parentID int64, columns []string, orderByTime, ascending bool) query.Search {
	if columns == nil {
		columns = []string{types.ParentIDColumn}
	}
	return listSearch(columns, "", strconv.FormatInt(parentID, 10), true, orderByTime, ascending)
}

func (t *Table[T]) ListAsync(ctx context.Context, orderByTime, ascending bool) *repository.Task[[]*T] {
	return t.SelectAsync(ctx, query.Search{OrderByTime: orderByTime, Ascending: ascending})
}

func (t *Table[T]) ListQueryAsync(ctx context.Context, q string, orderByTime, ascending bool) *repository.Task[[]*T] {
	return t.SelectAsync(ctx, listSearch(nil, "", q, false, orderByTime, ascending))
}

func (t *Table[T]) ChildrenAsync(ctx context.Context, parentID int64, columns []string, orderByTime, ascending bool) *repository.Task[[]*T] {
	return t.SelectAsync(ctx, childSearch(parentID, columns, orderByTime, ascending))
}

// SelectAsync runs Select on its own goroutine; Wait yields the same rows in
// the same order as the synchronous call.
func (t *Table[T]) SelectAsync(ctx context.Context, s query.Search) *repository.Task[[]*T] {
	return repository.Dispatch(ctx, t.desc.Table, func(ctx context.Context) ([]*T, error) {
		return t.Select(ctx, s)
	})
}

// Mode returns the most frequent value of column as {"value", "times"}.
// An empty table name means this table.
func (t *Table[T]) Mode(ctx context.Context, table, column string) (types.Fields, error) {
	db, err := t.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	raw := db.NewSelect().
		ColumnExpr("? AS value", bun.Ident(column)).
		ColumnExpr("COUNT(*) AS times").
		TableExpr("?", bun.Ident(t.tableOr(table))).
		GroupExpr("?", bun.Ident(column)).
		OrderExpr("times DESC, ? ASC", bun.Ident(column)).
		Limit(1).
		String()
	return t.fields(ctx, raw)
}

// Mean returns the average of column as {"mean", "times"}.
func (t *Table[T]) Mean(ctx context.Context, table, column string) (types.Fields, error) {
	db, err := t.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	raw := db.NewSelect().
		ColumnExpr("AVG(?) AS mean", bun.Ident(column)).
		ColumnExpr("COUNT(*) AS times").
		TableExpr("?", bun.Ident(t.tableOr(table))).
		String()
	return t.fields(ctx, raw)
}

// Aggregate runs a caller-written statement and decodes its first row with
// the table mapper. raw is not validated.
func (t *Table[T]) Aggregate(ctx context.Context, raw string, args ...interface{}) (*T, error) {
	return repository.QueryRaw(ctx, t.store, raw, args, t.mapper)
}

func (t *Table[T]) fields(ctx context.Context, raw string) (types.Fields, error) {
	f, err := repository.QueryRaw(ctx, t.store, raw, nil, types.FieldsMapper())
	if err != nil || f == nil {
		return nil, err
	}
	return *f, nil
}

func (t *Table[T]) tableOr(table string) string {
	if table == "" {
		return t.desc.Table
	}
	return table
}

func (t *Table[T]) HasData(ctx context.Context) (bool, error) {
	n, err := t.Entries(ctx)
	return n > 0, err
}

// Entries counts the rows of the table.
func (t *Table[T]) Entries(ctx context.Context) (int, error) {
	return t.store.CountRows(ctx, t.desc.Table)
}

func (t *Table[T]) Tables(ctx context.Context) ([]string, error) {
	return t.store.ListTables(ctx)
}

func (t *Table[T]) Views(ctx context.Context) ([]string, error) {
	return t.store.ListViews(ctx)
}

func (t *Table[T]) Columns(ctx context.Context, table string) ([]string, error) {
	return t.store.ListColumns(ctx, t.tableOr(table))
}

// Schema renders every table and view with its columns.
func (t *Table[T]) Schema(ctx context.Context) (string, error) {
	var b strings.Builder
	sections := []struct {
		title string
		list  func(context.Context) ([]string, error)
	}{
		{"TABLES", t.store.ListTables},
		{"VIEWS", t.store.ListViews},
	}
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sec.title + "\n")
		names, err := sec.list(ctx)
		if err != nil {
			return "", err
		}
		for _, name := range names {
			cols, err := t.store.ListColumns(ctx, name)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%s: [%s]\n", name, strings.Join(cols, ", "))
		}
	}
	return b.String(), nil
}

// Describe logs the table name, its columns and its row count.
func (t *Table[T]) Describe(ctx context.Context) error {
	cols, err := t.Columns(ctx, "")
	if err != nil {
		return err
	}
	n, err := t.Entries(ctx)
	if err != nil {
		return err
	}
	database.GetLogger().Info("table "+t.desc.Table,
		"columns", strings.Join(cols, ","),
		"data", n > 0,
		"entries", n,
	)
	return nil
}

func (t *Table[T]) encode(record *T) (types.Fields, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil record for %s", database.ErrConfiguration, t.desc.Table)
	}
	fields, err := t.mapper.Encode(record)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.desc.Table, err)
	}
	return fields, nil
}

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

package repository

import (
	"context"

	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/query"
	"github.com/tomoncle/tablelab/types"
)

// FindOne runs c limited to one row. A missing row is (nil, nil).
func FindOne[T any](ctx context.Context, store *database.Store, c *query.Composed, mapper types.Mapper[T]) (*T, error) {
	items, err := run(ctx, store, "find", c.WithLimit(1), mapper)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// FindAll runs c and decodes every row in result order. On any error no
// partial result is returned.
func FindAll[T any](ctx context.Context, store *database.Store, c *query.Composed, mapper types.Mapper[T]) ([]*T, error) {
	return run(ctx, store, "list", c, mapper)
}

// QueryRaw runs a caller-written statement with "?" placeholders and decodes
// its first row. The statement is trusted as is; only the placeholder style is
// adapted to the store.
func QueryRaw[T any](ctx context.Context, store *database.Store, raw string, args []interface{}, mapper types.Mapper[T]) (*T, error) {
	clause := query.Rebind(query.StyleFor(store.Dialect()), raw)
	items, err := collect(ctx, store, "raw", clause, args, mapper, 1)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// Count returns the number of rows c matches.
func Count(ctx context.Context, store *database.Store, c *query.Composed) (int, error) {
	total, err := FindOne(ctx, store, c.Count(), countMapper)
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}

// Page returns one page of c together with the total match count. A nil req
// selects the first page of the default size.
func Page[T any](ctx context.Context, store *database.Store, c *query.Composed, req *types.PageRequest, mapper types.Mapper[T]) (*types.Pagination[T], error) {
	if req == nil {
		req = types.NewPageRequest(1, types.DefaultPageSize)
	}
	pagination := types.NewDefaultPagination[T](req.GetPage(), req.GetPageSize())
	total, err := Count(ctx, store, c)
	if err != nil || total == 0 {
		return pagination, err
	}
	items, err := FindAll(ctx, store, c.Page(req.GetOffset(), req.GetPageSize()), mapper)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = items
	return pagination, nil
}

var countMapper = types.MapperFuncs[int]{
	DecodeFunc: func(row types.Row) (*int, error) {
		n, err := row.Int(row.Columns()[0])
		if err != nil {
			return nil, err
		}
		return &n, nil
	},
}

func run[T any](ctx context.Context, store *database.Store, op string, c *query.Composed, mapper types.Mapper[T]) ([]*T, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	clause := c.Build(query.StyleFor(store.Dialect()))
	return collect(ctx, store, op, clause, c.Args, mapper, 0)
}

// collect drains at most max rows (all when max is 0) and always releases
// the cursor before returning.
func collect[T any](ctx context.Context, store *database.Store, op, clause string, args []interface{}, mapper types.Mapper[T], max int) ([]*T, error) {
	cur, err := store.Query(ctx, op, clause, args)
	if err != nil {
		return nil, err
	}
	defer database.Release(cur)

	items := make([]*T, 0)
	for cur.Next() {
		row, err := cur.Row()
		if err != nil {
			return nil, database.NewExecutionError(op, clause, len(args), err)
		}
		item, err := mapper.Decode(row)
		if err != nil {
			return nil, &database.DecodeError{Row: len(items), Err: err}
		}
		items = append(items, item)
		if max > 0 && len(items) >= max {
			break
		}
	}
	if err := cur.Err(); err != nil {
		return nil, database.NewExecutionError(op, clause, len(args), err)
	}
	return items, nil
}

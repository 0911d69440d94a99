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
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/types"
)

// Insert writes one row and returns its generated key, or 0 when the driver
// cannot report one.
func Insert(ctx context.Context, store *database.Store, table, key string, fields types.Fields) (int64, error) {
	db, err := store.Write(ctx)
	if err != nil {
		return 0, err
	}
	return insert(ctx, db, store.Dialect(), table, key, fields)
}

// InsertBatch writes every row in one transaction; either all rows land or none.
func InsertBatch(ctx context.Context, store *database.Store, table, key string, rows []types.Fields) error {
	db, err := store.Write(ctx)
	if err != nil {
		return err
	}
	name := store.Dialect()
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, fields := range rows {
			if _, err := insert(ctx, tx, name, table, key, fields); err != nil {
				return err
			}
		}
		return nil
	})
}

func insert(ctx context.Context, db bun.IDB, name dialect.Name, table, key string, fields types.Fields) (int64, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: no columns to insert into %s", database.ErrConfiguration, table)
	}
	values := map[string]interface{}(fields)
	q := db.NewInsert().Model(&values).TableExpr(table)
	database.Trace("insert", table, len(fields))

	if name == dialect.PG {
		var id int64
		if _, err := q.Returning("?", bun.Ident(key)).Exec(ctx, &id); err != nil {
			return 0, database.NewExecutionError("insert", table, len(fields), err)
		}
		return id, nil
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, database.NewExecutionError("insert", table, len(fields), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// Update rewrites the row whose key equals id and returns the rows affected.
func Update(ctx context.Context, store *database.Store, table, key string, id int64, fields types.Fields) (int64, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: no columns to update in %s", database.ErrConfiguration, table)
	}
	db, err := store.Write(ctx)
	if err != nil {
		return 0, err
	}
	values := map[string]interface{}(fields)
	database.Trace("update", table, len(fields)+1)
	res, err := db.NewUpdate().
		Model(&values).
		TableExpr(table).
		Where("? = ?", bun.Ident(key), id).
		Exec(ctx)
	if err != nil {
		return 0, database.NewExecutionError("update", table, len(fields)+1, err)
	}
	return res.RowsAffected()
}

// DeleteWhere removes every row whose column equals value and returns the rows affected.
func DeleteWhere(ctx context.Context, store *database.Store, table, column string, value interface{}) (int64, error) {
	db, err := store.Write(ctx)
	if err != nil {
		return 0, err
	}
	database.Trace("delete", table, 1)
	res, err := db.NewDelete().
		TableExpr(table).
		Where("? = ?", bun.Ident(column), value).
		Exec(ctx)
	if err != nil {
		return 0, database.NewExecutionError("delete", table, 1, err)
	}
	return res.RowsAffected()
}

// Upsert inserts fields or, when a row with the same conflict columns exists,
// overwrites the update columns. Engines without native upsert fall back to
// insert-then-update on key.
func Upsert(ctx context.Context, store *database.Store, table, key string, fields types.Fields, conflict, update []string) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: upsert into %s without update columns", database.ErrConfiguration, table)
	}
	db, err := store.Write(ctx)
	if err != nil {
		return err
	}
	values := map[string]interface{}(fields)
	q := db.NewInsert().Model(&values).TableExpr(table)
	database.Trace("upsert", table, len(fields))

	switch {
	case db.HasFeature(feature.InsertOnConflict):
		if len(conflict) == 0 {
			conflict = []string{key}
		}
		q = q.On("CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE")
		for _, c := range update {
			q = q.Set("? = EXCLUDED.?", bun.Ident(c), bun.Ident(c))
		}
	case db.HasFeature(feature.InsertOnDuplicateKey):
		q = q.On("DUPLICATE KEY UPDATE")
		for _, c := range update {
			q = q.Set("? = VALUES(?)", bun.Ident(c), bun.Ident(c))
		}
	default:
		return upsertFallback(ctx, store, table, key, fields)
	}

	if _, err := q.Exec(ctx); err != nil {
		return database.NewExecutionError("upsert", table, len(fields), err)
	}
	return nil
}

func upsertFallback(ctx context.Context, store *database.Store, table, key string, fields types.Fields) error {
	_, err := Insert(ctx, store, table, key, fields)
	if err == nil {
		return nil
	}
	id, castErr := types.NewRow([]string{key}, []interface{}{fields[key]}).Int64(key)
	if castErr != nil {
		return err
	}
	rest := make(types.Fields, len(fields))
	for k, v := range fields {
		if k != key {
			rest[k] = v
		}
	}
	if _, updateErr := Update(ctx, store, table, key, id, rest); updateErr != nil {
		return fmt.Errorf("upsert failed for %s: insert error: %v, update error: %w", table, err, updateErr)
	}
	return nil
}

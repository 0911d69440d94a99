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
	"time"
)

// Pair is a many-to-many link row: id, left key, right key and timestamps.
type Pair struct {
	ID      int64
	Left    int64
	Right   int64
	Created time.Time
	Updated time.Time
}

// NewPair links left and right, stamping both timestamps with now.
func NewPair(left, right int64) *Pair {
	now := time.Now()
	return &Pair{Left: left, Right: right, Created: now, Updated: now}
}

// PairMapper maps Pair onto a table whose key columns are named left and right.
// Timestamps are stored as Unix milliseconds.
func PairMapper(left, right string) Mapper[Pair] {
	return MapperFuncs[Pair]{
		EncodeFunc: func(p *Pair) (Fields, error) {
			if p == nil {
				return nil, fmt.Errorf("nil pair")
			}
			return Fields{
				left:          p.Left,
				right:         p.Right,
				CreatedColumn: p.Created.UnixMilli(),
				UpdatedColumn: p.Updated.UnixMilli(),
			}, nil
		},
		DecodeFunc: func(row Row) (*Pair, error) {
			var (
				p   Pair
				err error
			)
			if p.ID, err = row.Int64(IDColumn); err != nil {
				return nil, err
			}
			if p.Left, err = row.Int64(left); err != nil {
				return nil, err
			}
			if p.Right, err = row.Int64(right); err != nil {
				return nil, err
			}
			if p.Created, err = row.Time(CreatedColumn); err != nil {
				return nil, err
			}
			if p.Updated, err = row.Time(UpdatedColumn); err != nil {
				return nil, err
			}
			return &p, nil
		},
	}
}

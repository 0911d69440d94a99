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
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/types"
)

var notes = types.Descriptor{
	Table:         "notes",
	SearchColumns: []string{"title", "body"},
	TimeColumn:    "created",
	OrderColumn:   "title",
}

func TestBuildPredicateExact(t *testing.T) {
	p := BuildPredicate(PredicateInput{Query: "Ana", Columns: []string{"name", "alias"}, Exact: true})
	if p.Where != "name = ? AND alias = ?" {
		t.Fatalf("where = %q", p.Where)
	}
	if !reflect.DeepEqual(p.Args, []interface{}{"Ana", "Ana"}) {
		t.Fatalf("args = %v", p.Args)
	}
}

func TestBuildPredicateFuzzy(t *testing.T) {
	p := BuildPredicate(PredicateInput{Query: "AnA", Columns: []string{"name", "alias"}})
	if p.Where != "name LIKE ? OR alias LIKE ?" {
		t.Fatalf("where = %q", p.Where)
	}
	if !reflect.DeepEqual(p.Args, []interface{}{"%ana%", "%ana%"}) {
		t.Fatalf("args = %v", p.Args)
	}
}

func TestBuildPredicateFoldCase(t *testing.T) {
	p := BuildPredicate(PredicateInput{Query: "AnA", Columns: []string{"name", "alias"}, FoldCase: true})
	if p.Where != "lower(name) LIKE ? OR lower(alias) LIKE ?" {
		t.Fatalf("where = %q", p.Where)
	}
	if !reflect.DeepEqual(p.Args, []interface{}{"%ana%", "%ana%"}) {
		t.Fatalf("args = %v", p.Args)
	}

	exact := BuildPredicate(PredicateInput{Query: "AnA", Columns: []string{"name"}, Exact: true, FoldCase: true})
	if exact.Where != "name = ?" {
		t.Fatalf("exact where = %q", exact.Where)
	}
}

func TestBuildPredicateEmpty(t *testing.T) {
	cases := []PredicateInput{
		{},
		{Query: "", Columns: []string{"name"}},
		{Query: "x", Columns: []string{}, Defaults: []string{"name"}},
		{Query: "x"},
	}
	for i, in := range cases {
		if p := BuildPredicate(in); !p.Empty() || len(p.Args) != 0 {
			t.Errorf("case %d: got %q %v", i, p.Where, p.Args)
		}
	}
}

func TestBuildPredicateDefaults(t *testing.T) {
	p := BuildPredicate(PredicateInput{Query: "x", Defaults: []string{"title"}, Exact: true})
	if p.Where != "title = ?" {
		t.Fatalf("where = %q", p.Where)
	}
}

func TestBuildPredicateIDShortCircuit(t *testing.T) {
	p := BuildPredicate(PredicateInput{
		Query:      "ignored",
		Columns:    []string{"name"},
		ID:         7,
		TimeColumn: "created",
		Range:      types.NewTimeRange(time.UnixMilli(1), time.UnixMilli(2)),
	})
	if p.Where != "id = ?" || !reflect.DeepEqual(p.Args, []interface{}{int64(7)}) {
		t.Fatalf("got %q %v", p.Where, p.Args)
	}

	p = BuildPredicate(PredicateInput{ID: 3, Key: "uid"})
	if p.Where != "uid = ?" {
		t.Fatalf("where = %q", p.Where)
	}
}

func TestBuildPredicateRange(t *testing.T) {
	r := types.NewTimeRange(time.UnixMilli(100), time.UnixMilli(200))

	p := BuildPredicate(PredicateInput{TimeColumn: "created", Range: r})
	if p.Where != "created > ? AND created < ?" {
		t.Fatalf("where = %q", p.Where)
	}
	if !reflect.DeepEqual(p.Args, []interface{}{int64(100), int64(200)}) {
		t.Fatalf("args = %v", p.Args)
	}

	p = BuildPredicate(PredicateInput{Query: "a", Columns: []string{"x", "y"}, TimeColumn: "created", Range: r})
	if p.Where != "(x LIKE ? OR y LIKE ?) AND created > ? AND created < ?" {
		t.Fatalf("where = %q", p.Where)
	}
	if !reflect.DeepEqual(p.Args, []interface{}{"%a%", "%a%", int64(100), int64(200)}) {
		t.Fatalf("args = %v", p.Args)
	}
}

func TestAssembleOrdering(t *testing.T) {
	cases := []struct {
		name   string
		search Search
		want   string
	}{
		{"alphabetical default", Search{}, "lower(title) DESC"},
		{"alphabetical asc", Search{Ascending: true}, "lower(title) ASC"},
		{"alphabetical override", Search{OrderColumn: "body", Ascending: true}, "lower(body) ASC"},
		{"time desc", Search{OrderByTime: true}, "created DESC"},
		{"time asc", Search{OrderByTime: true, Ascending: true}, "created ASC"},
	}
	for _, tc := range cases {
		c, err := Assemble(notes, tc.search)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if c.OrderBy != tc.want {
			t.Errorf("%s: order = %q, want %q", tc.name, c.OrderBy, tc.want)
		}
	}

	bare := types.Descriptor{Table: "t"}
	c, err := Assemble(bare, Search{})
	if err != nil {
		t.Fatal(err)
	}
	if c.OrderBy != "" || c.SQL() != "SELECT * FROM t" {
		t.Fatalf("sql = %q", c.SQL())
	}
}

func TestAssembleOverrides(t *testing.T) {
	desc := notes
	desc.GroupBy = "title"
	desc.Having = "COUNT(*) > 1"
	desc.Limit = 20

	c, err := Assemble(desc, Search{})
	if err != nil {
		t.Fatal(err)
	}
	if c.GroupBy != "title" || c.Having != "COUNT(*) > 1" || c.Limit != 20 {
		t.Fatalf("defaults not applied: %+v", c)
	}

	c, err = Assemble(desc, Search{Table: "notes_view", GroupBy: "body", Having: "COUNT(*) > 2", Limit: 5, Columns: []string{"body"}})
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT body FROM notes_view GROUP BY body HAVING COUNT(*) > 2 ORDER BY lower(title) DESC LIMIT 5"
	if c.SQL() != want {
		t.Fatalf("sql = %q", c.SQL())
	}
}

func TestAssembleRejectsBadDescriptor(t *testing.T) {
	if _, err := Assemble(types.Descriptor{}, Search{}); !errors.Is(err, database.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
	r := types.NewTimeRange(time.Now(), time.Now())
	if _, err := Assemble(types.Descriptor{Table: "t"}, Search{Range: r}); !errors.Is(err, database.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

func TestPlaceholdersMatchArgs(t *testing.T) {
	r := types.NewTimeRange(time.UnixMilli(1), time.UnixMilli(9))
	searches := []Search{
		{},
		{Query: "q"},
		{Query: "q", Exact: true},
		{Query: "q", SearchColumns: []string{"a", "b", "c"}},
		{Query: "q", Range: r},
		{Range: r, Exact: true},
		{ID: 4, Query: "q", Range: r},
		{Query: "it's", Exact: true},
	}
	for i, s := range searches {
		c, err := Assemble(notes, s)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if CountPlaceholders(c.Where) != len(c.Args) {
			t.Errorf("case %d: %q has %d args", i, c.Where, len(c.Args))
		}
		for _, a := range c.Args {
			if s, ok := a.(string); ok && s != "" && containsText(c.SQL(), s) {
				t.Errorf("case %d: value %q leaked into %q", i, s, c.SQL())
			}
		}
	}
}

func containsText(sql, v string) bool {
	for i := 0; i+len(v) <= len(sql); i++ {
		if sql[i:i+len(v)] == v {
			return true
		}
	}
	return false
}

func TestValidateBinding(t *testing.T) {
	c := &Composed{Table: "t", Where: "a = ? AND b = ?", Args: []interface{}{1}}
	if err := c.Validate(); !errors.Is(err, database.ErrBinding) {
		t.Fatalf("err = %v", err)
	}
}

func TestRebind(t *testing.T) {
	in := "SELECT * FROM t WHERE a = ? AND b = '?' AND c LIKE ? AND \"d?\" = ?"
	if got := Rebind(Question, in); got != in {
		t.Fatalf("question style changed text: %q", got)
	}
	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c LIKE $2 AND \"d?\" = $3"
	if got := Rebind(Dollar, in); got != want {
		t.Fatalf("got %q", got)
	}
	if n := CountPlaceholders("x = 'it''s ?' AND y = ?"); n != 1 {
		t.Fatalf("count = %d", n)
	}
	if StyleFor(dialect.PG) != Dollar || StyleFor(dialect.SQLite) != Question || StyleFor(dialect.MySQL) != Question {
		t.Fatal("unexpected style mapping")
	}
}

func TestCount(t *testing.T) {
	c, err := Assemble(notes, Search{Query: "a", Limit: 10, Offset: 20})
	if err != nil {
		t.Fatal(err)
	}
	cnt := c.Count()
	want := "SELECT COUNT(*) AS total FROM notes WHERE title LIKE ? OR body LIKE ?"
	if cnt.SQL() != want {
		t.Fatalf("sql = %q", cnt.SQL())
	}
	if err := cnt.Validate(); err != nil {
		t.Fatal(err)
	}

	c.GroupBy = "title"
	grouped := c.Count()
	if err := grouped.Validate(); err != nil {
		t.Fatal(err)
	}
	want = "SELECT COUNT(*) AS total FROM (SELECT title FROM notes WHERE title LIKE ? OR body LIKE ? GROUP BY title) AS grouped"
	if grouped.SQL() != want {
		t.Fatalf("sql = %q", grouped.SQL())
	}
}

func TestPageAndLimitCopies(t *testing.T) {
	c, _ := Assemble(notes, Search{})
	p := c.Page(30, 10)
	if c.Limit != 0 || p.Limit != 10 || p.Offset != 30 {
		t.Fatalf("page mutated original or wrong: %+v %+v", c, p)
	}
	if got := p.SQL(); got != "SELECT * FROM notes ORDER BY lower(title) DESC LIMIT 10 OFFSET 30" {
		t.Fatalf("sql = %q", got)
	}
	if one := c.WithLimit(1); one.Limit != 1 || c.Limit != 0 {
		t.Fatal("WithLimit mutated original")
	}
}

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
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cast"

	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/query"
	"github.com/tomoncle/tablelab/types"
)

type contact struct {
	ID       int64
	ParentID int64
	Name     string
	Created  time.Time
}

var contactDesc = types.Descriptor{
	Table:         "contacts",
	SearchColumns: []string{types.NameColumn},
	TimeColumn:    types.CreatedColumn,
	OrderColumn:   types.NameColumn,
}

var contactMapper = types.MapperFuncs[contact]{
	EncodeFunc: func(c *contact) (types.Fields, error) {
		return types.Fields{
			types.ParentIDColumn: c.ParentID,
			types.NameColumn:     c.Name,
			types.CreatedColumn:  c.Created.UnixMilli(),
		}, nil
	},
	DecodeFunc: func(row types.Row) (*contact, error) {
		var (
			c   contact
			err error
		)
		if c.ID, err = row.Int64(types.IDColumn); err != nil {
			return nil, err
		}
		if c.ParentID, err = row.Int64(types.ParentIDColumn); err != nil {
			return nil, err
		}
		if c.Name, err = row.String(types.NameColumn); err != nil {
			return nil, err
		}
		if c.Created, err = row.Time(types.CreatedColumn); err != nil {
			return nil, err
		}
		return &c, nil
	},
}

var schema = []database.TableDefinition{
	{
		Name:     "contacts",
		Priority: 1,
		Create:   "CREATE TABLE IF NOT EXISTS contacts (id INTEGER PRIMARY KEY AUTOINCREMENT, parent_id INTEGER NOT NULL DEFAULT 0, name TEXT NOT NULL, created INTEGER NOT NULL)",
	},
	{
		Name:     "contact_groups",
		Priority: 2,
		Create:   "CREATE TABLE IF NOT EXISTS contact_groups (id INTEGER PRIMARY KEY AUTOINCREMENT, contact_id INTEGER NOT NULL, group_id INTEGER NOT NULL, created INTEGER NOT NULL, updated INTEGER NOT NULL)",
	},
}

func openContacts(t *testing.T) *Table[contact] {
	t.Helper()
	ctx := context.Background()
	store, err := database.OpenMemoryStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	registry := database.NewTableRegistry()
	for _, def := range schema {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	if err := store.Migrate(ctx, registry); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	table, err := New(store, contactDesc, contactMapper)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return table
}

func at(ms int64) time.Time { return time.UnixMilli(ms) }

func names(items []*contact) []string {
	out := make([]string, 0, len(items))
	for _, c := range items {
		out = append(out, c.Name)
	}
	return out
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	store, err := database.OpenMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	if _, err := New(store, types.Descriptor{}, contactMapper); !errors.Is(err, database.ErrConfiguration) {
		t.Fatalf("empty table: err = %v", err)
	}
	if _, err := New[contact](nil, contactDesc, contactMapper); !errors.Is(err, database.ErrConfiguration) {
		t.Fatalf("nil store: err = %v", err)
	}
}

func TestDescriptorIsCopied(t *testing.T) {
	table := openContacts(t)
	d := table.Descriptor()
	d.SearchColumns[0] = "mutated"
	if table.Descriptor().SearchColumns[0] != types.NameColumn {
		t.Fatal("descriptor mutated through getter")
	}
}

func TestCrud(t *testing.T) {
	table := openContacts(t)
	ctx := context.Background()

	if got, err := table.Find(ctx, 1); err != nil || got != nil {
		t.Fatalf("find on empty table = %+v, %v", got, err)
	}

	id, err := table.SaveWithResponse(ctx, &contact{Name: "Ada", Created: at(10)})
	if err != nil {
		t.Fatal(err)
	}
	got, err := table.Find(ctx, id)
	if err != nil || got == nil || got.Name != "Ada" || !got.Created.Equal(at(10)) {
		t.Fatalf("find = %+v, %v", got, err)
	}

	n, err := table.UpdateWithResponse(ctx, &contact{Name: "Ada L.", Created: at(11)}, id)
	if err != nil || n != 1 {
		t.Fatalf("update = %d, %v", n, err)
	}
	if got, _ = table.Exact(ctx, "Ada L.", nil); got == nil || got.ID != id {
		t.Fatalf("exact after update = %+v", got)
	}

	if err := table.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if ok, err := table.HasData(ctx); err != nil || ok {
		t.Fatalf("has data after delete = %v, %v", ok, err)
	}
}

func TestListsAndSearch(t *testing.T) {
	table := openContacts(t)
	ctx := context.Background()
	err := table.SaveBatch(ctx, []*contact{
		{Name: "carol", Created: at(10)},
		{Name: "Alice", Created: at(30)},
		{Name: "bob", Created: at(20)},
	})
	if err != nil {
		t.Fatal(err)
	}

	byTime, err := table.List(ctx, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(byTime); !reflect.DeepEqual(got, []string{"Alice", "bob", "carol"}) {
		t.Fatalf("by time desc = %v", got)
	}

	alpha, err := table.List(ctx, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(alpha); !reflect.DeepEqual(got, []string{"Alice", "bob", "carol"}) {
		t.Fatalf("alphabetical asc = %v", got)
	}

	like, err := table.ListQuery(ctx, "O", true, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(like); !reflect.DeepEqual(got, []string{"carol", "bob"}) {
		t.Fatalf("like = %v", got)
	}

	exact, err := table.ListExact(ctx, []string{types.NameColumn}, "", "bob", false, true)
	if err != nil || len(exact) != 1 {
		t.Fatalf("exact = %v, %v", names(exact), err)
	}

	inRange, err := table.FindRange(ctx, "", nil, false, types.NewTimeRange(at(15), at(25)))
	if err != nil || inRange == nil || inRange.Name != "bob" {
		t.Fatalf("range = %+v, %v", inRange, err)
	}

	first, err := table.Like(ctx, "LIC", nil)
	if err != nil || first == nil || first.Name != "Alice" {
		t.Fatalf("like one = %+v, %v", first, err)
	}

	page, err := table.Page(ctx, query.Search{OrderByTime: true, Ascending: true}, types.NewPageRequest(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || !reflect.DeepEqual(names(page.Items), []string{"carol", "bob"}) {
		t.Fatalf("page = %d %v", page.Total, names(page.Items))
	}

	random, err := table.Random(ctx)
	if err != nil || random == nil {
		t.Fatalf("random = %+v, %v", random, err)
	}
}

func TestChildren(t *testing.T) {
	table := openContacts(t)
	ctx := context.Background()
	parent, err := table.SaveWithResponse(ctx, &contact{Name: "root", Created: at(1)})
	if err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"b", "a"} {
		if err := table.Save(ctx, &contact{ParentID: parent, Name: name, Created: at(int64(2 + i))}); err != nil {
			t.Fatal(err)
		}
	}

	kids, err := table.Children(ctx, parent, nil, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(kids); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("children = %v", got)
	}

	task := table.ChildrenAsync(ctx, parent, nil, false, true)
	async, err := task.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(async, kids) {
		t.Fatalf("async children = %v", names(async))
	}
}

func TestAsyncMatchesSync(t *testing.T) {
	table := openContacts(t)
	ctx := context.Background()
	for i, name := range []string{"x", "y", "z"} {
		if err := table.Save(ctx, &contact{Name: name, Created: at(int64([]int{10, 30, 20}[i]))}); err != nil {
			t.Fatal(err)
		}
	}

	want, err := table.List(ctx, true, false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := table.ListAsync(ctx, true, false).Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("async %v != sync %v", names(got), names(want))
	}

	q, err := table.ListQueryAsync(ctx, "y", false, true).Wait(ctx)
	if err != nil || len(q) != 1 {
		t.Fatalf("query async = %v, %v", names(q), err)
	}
}

func TestAggregates(t *testing.T) {
	table := openContacts(t)
	ctx := context.Background()
	for i, name := range []string{"x", "y", "x"} {
		if err := table.Save(ctx, &contact{Name: name, Created: at(int64(10 * (i + 1)))}); err != nil {
			t.Fatal(err)
		}
	}

	mode, err := table.Mode(ctx, "", types.NameColumn)
	if err != nil {
		t.Fatal(err)
	}
	if cast.ToString(mode["value"]) != "x" || cast.ToInt(mode["times"]) != 2 {
		t.Fatalf("mode = %v", mode)
	}

	mean, err := table.Mean(ctx, "contacts", types.CreatedColumn)
	if err != nil {
		t.Fatal(err)
	}
	if cast.ToFloat64(mean["mean"]) != 20 || cast.ToInt(mean["times"]) != 3 {
		t.Fatalf("mean = %v", mean)
	}

	latest, err := table.Aggregate(ctx, "SELECT * FROM contacts WHERE created = (SELECT MAX(created) FROM contacts WHERE name = ?)", "x")
	if err != nil || latest == nil || !latest.Created.Equal(at(30)) {
		t.Fatalf("aggregate = %+v, %v", latest, err)
	}
}

func TestMeta(t *testing.T) {
	table := openContacts(t)
	ctx := context.Background()
	if _, err := table.Store().Exec(ctx, "view", "CREATE VIEW recent_contacts AS SELECT id, name FROM contacts WHERE created > 0"); err != nil {
		t.Fatal(err)
	}

	tables, err := table.Tables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tables, []string{"contact_groups", "contacts", "tablelab_migrations"}) {
		t.Fatalf("tables = %v", tables)
	}
	views, err := table.Views(ctx)
	if err != nil || !reflect.DeepEqual(views, []string{"recent_contacts"}) {
		t.Fatalf("views = %v, %v", views, err)
	}
	cols, err := table.Columns(ctx, "")
	if err != nil || !reflect.DeepEqual(cols, []string{"id", "parent_id", "name", "created"}) {
		t.Fatalf("columns = %v, %v", cols, err)
	}

	schemaText, err := table.Schema(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"TABLES\n", "contacts: [id, parent_id, name, created]\n", "\nVIEWS\n", "recent_contacts: [id, name]\n"} {
		if !strings.Contains(schemaText, want) {
			t.Errorf("schema missing %q:\n%s", want, schemaText)
		}
	}
	if err := table.Describe(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestManyTable(t *testing.T) {
	contacts := openContacts(t)
	ctx := context.Background()
	links, err := NewManyTable(contacts.Store(), "contact_groups", "contact_id", "group_id")
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []*types.Pair{types.NewPair(1, 7), types.NewPair(2, 7), types.NewPair(1, 8)} {
		if err := links.Save(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := links.ListExact(ctx, []string{"contact_id"}, "group_id", "1", false, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 || groups[0].Right != 7 || groups[1].Right != 8 {
		t.Fatalf("groups of contact 1 = %+v", groups)
	}

	removed, err := links.DeleteBy(ctx, "group_id", 7)
	if err != nil || removed != 2 {
		t.Fatalf("delete by group = %d, %v", removed, err)
	}
	if n, _ := links.Entries(ctx); n != 1 {
		t.Fatalf("entries = %d", n)
	}
}

func TestRandomHonoursDefaultGrouping(t *testing.T) {
	table := openContacts(t)
	ctx := context.Background()
	if got, err := table.Random(ctx); err != nil || got != nil {
		t.Fatalf("random on empty table = %+v, %v", got, err)
	}
	for i := 0; i < 3; i++ {
		if err := table.Save(ctx, &contact{Name: "dup", Created: at(int64(i + 1))}); err != nil {
			t.Fatal(err)
		}
	}

	desc := contactDesc
	desc.GroupBy = types.NameColumn
	grouped, err := New(table.Store(), desc, contactMapper)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		got, err := grouped.Random(ctx)
		if err != nil || got == nil || got.Name != "dup" {
			t.Fatalf("random over one group = %+v, %v", got, err)
		}
	}
}

func TestFuzzySearchFoldsCaseOnPostgres(t *testing.T) {
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "postgres"
	store, err := database.OpenStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	pg, err := New(store, contactDesc, contactMapper)
	if err != nil {
		t.Fatal(err)
	}
	c, err := pg.assemble(query.Search{Query: "ALI"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Where != "lower(name) LIKE ?" || !reflect.DeepEqual(c.Args, []interface{}{"%ali%"}) {
		t.Fatalf("postgres where = %q args = %v", c.Where, c.Args)
	}

	c, err = openContacts(t).assemble(query.Search{Query: "ALI"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Where != "name LIKE ?" {
		t.Fatalf("sqlite where = %q", c.Where)
	}
}

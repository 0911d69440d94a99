// Package repository executes composed queries against a database.Store:
// point lookups, ordered lists, pages and raw aggregates decoded through a
// types.Mapper, row mutations through bun, and background Tasks.
package repository

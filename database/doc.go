// Package database owns the row store: connection management over bun,
// the shared Store handle with its cursors, error classification, query
// tracing, and versioned table declarations.
package database

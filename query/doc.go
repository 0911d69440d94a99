// Package query builds parameterised SELECT statements from an entity
// descriptor and a per-call Search. Values are never written into clause
// text; they travel in Composed.Args in placeholder order.
package query

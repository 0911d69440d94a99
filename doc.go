// Package tablelab is a generic table-access layer over a relational store.
// Describe a record type once with a types.Descriptor and a types.Mapper,
// then save, update, delete, look up, list and search it through Table
// without writing SQL per query shape.
package tablelab

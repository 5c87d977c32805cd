// Package docdb provides an embedded document store: named collections of
// schemaless records held in memory and persisted as a whole through a
// pluggable [Adapter].
//
// # Overview
//
// A [Store] owns the dataset, a mapping of collection name to an ordered
// sequence of [Record]. [Store.Load] replaces it with what the adapter returns,
// optionally running [Migration] steps first. [Store.Collection] hands out a
// [Collection] view bound to a name; views never copy the backing sequence, so
// every view of the same name sees the same records.
//
// # Queries
//
// A [Query] maps dotted field paths to expected values. A record matches when
// every path resolves to a value strictly equal to the expected one. An empty
// query matches every record.
//
// # Isolation
//
// Every record handed to or returned from a Collection is deep copied. Mutating
// a returned record never changes stored state and vice versa.
//
// # Persistence
//
// Each mutation that changes the dataset saves it exactly once before
// returning. Mutations matching nothing do not save, except Insert which always
// saves. A failed save leaves the in-memory change in place; reload to resync.
//
// # Concurrency
//
// Store and Collection are not safe for concurrent use. Callers serialize
// access themselves.
package docdb

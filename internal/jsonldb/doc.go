// Package jsonldb stores a persiston dataset as a directory of JSONL tables.
//
// # File Format
//
// Each collection is a <name>.jsonl file. Line 1 is a schema header listing
// the columns inferred from the records, subsequent lines are the records in
// collection order. Top level values that are not collections, such as the
// dataset version, live in _meta.json.
//
// # Concurrency
//
// [Table] guards its rows with a read-write lock. [Dir] rewrites whole tables
// and relies on the caller to serialize writes.
package jsonldb

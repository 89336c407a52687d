// Package sqlite contains SQLite repository implementations for MINFLUX
// datasets.
//
// Flattened tables are stored column by column: each column is encoded as
// little-endian values and compressed with snappy. Per-trace statistics
// live in their own table so they can be listed without decoding columns.
package sqlite

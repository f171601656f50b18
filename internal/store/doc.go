// Package store holds the RecordStore implementations: Postgres for
// production, CSV files for single-host runs, and memory for tests and dry
// runs. Each satisfies crawler.RecordStore.
package store

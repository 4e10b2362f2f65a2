// Package store persists threads and messages. Store is the interface the
// loop depends on; Memory backs tests and ephemeral runs, SQLite backs
// durable deployments. Both upsert by id so repeated saves are idempotent.
package store

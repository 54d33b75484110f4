// Package store provides the SQLite call journal for compiler workers.
//
// The journal is an append-only table with one row per handled call: run
// id, sequence number, operation, client and database, how the sync message
// was applied and the outcome code. Payloads are identified by digest only:
// args, result and returned transaction state each get a SHA-256 digest, and
// schema-bound calls carry the fingerprint of the database they compiled
// against.
//
// The journal is diagnostics only. A worker never reads it back and a
// failed write never fails a call.
//
// # Ordering
//
//   - All ordering uses seq (the worker's logical call clock), never timestamps
//   - Queries order by seq within a run and by run_id across runs
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
package store

// Package engine implements the compiler worker: schema synchronization,
// call dispatch and the transaction-state continuation.
//
// ARCHITECTURE:
//
// One Worker value holds all mutable state of a worker process: the
// compiler engine (created by __init_worker__), the schema cache and the
// continuation slot. A Loop owns the Worker and handles calls one at a time,
// so none of that state is locked.
//
// Per-call flow (Worker.Handle):
//  1. Evict the clients named in the invalidation list.
//  2. Apply the sync message (ApplySync): full snapshot on first contact,
//     field-level diff otherwise. The new cache entry is built completely
//     before it replaces the old one.
//  3. Resolve the bound state: a schema snapshot for schema-bound
//     operations, the continuation slot or a decoded blob for state-bound
//     ones.
//  4. Run the compiler.
//  5. Retain any newly produced transaction state in the slot and return
//     it serialized.
//
// CRITICAL PATTERNS:
//
// Atomic replace-or-fail: a failed sync never leaves a partially merged
// entry visible. Evictions already applied in the same call stay applied.
//
// Sticky routing is assumed, not checked: the continuation marker resolves
// to the last state this worker produced, whichever transaction it
// belonged to.
//
// No I/O in the core: ApplySync, Continuation and the dispatcher touch only
// memory. The optional journal and metrics are diagnostics.
package engine

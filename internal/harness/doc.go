// Package harness runs scripted scenarios against a worker.
//
// A scenario drives one engine.Worker, behind an engine.Loop, with the
// deterministic fake compiler from internal/testutil. Each step is one
// call; its reply is checked against the step's expectation. The calls are
// journaled to an in-memory store and the journal is joined with the
// replies into a trace that can be compared with a golden file.
//
// # Scenario Format
//
//	name: diff_sync_reflection
//	description: "A diff replaces only the reflection cache"
//	init:
//	  runtime_params: {tenant_id: acme, server_version: "16.2"}
//	  std_schema: STD
//	steps:
//	  - op: compile
//	    client: 7
//	    db: shop
//	    sync:
//	      dbs:
//	        shop: {user_schema: A, reflection_cache: C1, database_config: K1}
//	      global_schema: G
//	      instance_config: I
//	    args: q1
//	  - op: compile
//	    client: 7
//	    db: shop
//	    sync:
//	      dbs:
//	        shop: {reflection_cache: C2}
//	    args: q2
//	    expect:
//	      result: "units[q2@A]"
//	assertions:
//	  - type: db_state
//	    client: 7
//	    db: shop
//	    reflection_cache: C2
//
// In a sync block an absent payload key is unchanged, null removes the
// field and a string replaces it.
//
// # Assertion Types
//
//   - client_absent: the client has no cache entry
//   - client_dbs: the client's database names
//   - db_state: payload fields of one database
//   - global_state: global schema and instance config of a client
//   - cached_clients: the set of cached client ids
//   - compiler_calls: every compiler call, in order
//   - continuation: whether the slot holds a state, and which
//
// # Deterministic Testing
//
// Sequence numbers come from testutil.DeterministicClock and the run id is
// fixed (scenario run_id, default "test-run-default"), so traces are
// identical across runs.
package harness

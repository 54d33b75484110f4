// Package ir provides the value and wire types shared by every layer of the
// compiler-pool worker.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps it the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Schema, config and transaction-state payloads are opaque Blobs. The
//     worker stores and forwards them and never inspects their contents.
//   - Every optional field of a sync message is a tri-state Update, never a
//     nil sentinel, so "no change" and "remove" cannot be confused.
//   - All JSON tags use snake_case.
package ir

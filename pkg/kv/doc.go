// Package kv defines the key-value store contract shared by the plugin
// runtime and its host functions, plus two backends.
//
// # Overview
//
// The Store interface exposes linearizable-style read, write, and prefix
// scan operations. Write commands form a closed union: Set, Delete,
// CompareAndSwap, CompareAndDelete, Batch, and ConditionalBatch. Failures
// that callers must distinguish are typed: NotFoundError, NotLeaderError
// (carries the current leader when known), and CasFailedError (carries the
// actual value observed).
//
// # Backends
//
//   - MemoryStore: in-process map with full revision tracking. Used by
//     tests and standalone nodes.
//   - RedisStore: Redis-backed store using WATCH transactions for
//     compare-and-swap semantics. Revision metadata is not tracked.
//
// # Related Packages
//
//   - pkg/wasmplugin: exposes these operations to WASM guests
//   - pkg/blob: content-addressed counterpart for large payloads
package kv

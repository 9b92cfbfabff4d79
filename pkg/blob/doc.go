// Package blob provides a content-addressed blob store keyed by BLAKE3
// hashes, used for plugin WASM binaries and large guest payloads.
//
// # Overview
//
// A Ref is the lowercase hex encoding of the 32-byte BLAKE3 hash of the
// content. Stores are immutable maps from Ref to bytes: adding the same
// content twice yields the same Ref.
//
// # Backends
//
//   - MemoryStore: in-process, for tests and standalone nodes
//   - FilesystemStore: hash-sharded directory layout with atomic writes
package blob

// Package hooks dispatches cluster lifecycle events to configured
// handlers. KV commit events and cluster membership events are published
// on dot-delimited topics (hooks.kv.write_committed,
// hooks.cluster.leader_elected) and matched against NATS-style patterns.
//
// # Overview
//
// A Service holds the handler configuration and registered Handler
// implementations. Dispatch fans an event out to every handler whose
// pattern matches the event topic, bounding each invocation with the
// handler's timeout and recording per-handler metrics.
//
// # Related Packages
//
//   - pkg/wasmplugin routes matching events into plugin guests
//   - pkg/rpc exposes hook management to plugin host functions
package hooks

// Package pluginapi defines the contract between the host runtime and
// WASM handler plugins: the manifest stored in the cluster KV store, the
// capability permission set, guest-reported identity, lifecycle states,
// health reports, timer configuration, and the limits the host enforces.
//
// The package is shared by the host (pkg/wasmplugin) and by tooling that
// publishes or verifies plugins; it has no dependency on the runtime.
package pluginapi

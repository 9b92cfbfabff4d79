// Package wasmplugin is the host-side runtime for WASM handler plugins.
//
// # Overview
//
// Plugins are WebAssembly modules stored in blob storage and described
// by manifests in the cluster KV store. The LiveRegistry loads them into
// wazero sandboxes, verifies their identity, initializes them, and
// exposes each as an rpc.Handler. Guests call back into the node
// through the "aspen" host module: logging, KV and blob access, cluster
// info, signing, timers, hook subscriptions, SQL, and service dispatch,
// every call gated by the manifest's capability permissions and KV
// namespace prefixes.
//
// Guest ABI: the module exports plugin_alloc/plugin_free for buffer
// exchange plus the entry points plugin_info, plugin_init,
// plugin_shutdown, plugin_health, handle_request, plugin_on_timer, and
// plugin_on_hook_event. Byte payloads cross the boundary as (ptr, len)
// pairs; results come back as a single u64 packing ptr<<32|len.
//
// # Related Packages
//
//   - pkg/pluginapi holds the manifest and permission types
//   - pkg/rpc defines the handler registry plugins plug into
//   - pkg/hooks supplies the events routed to subscribed plugins
package wasmplugin

package pluginapi

// Host-enforced limits. Every bound a plugin can push against is clamped
// or rejected against these constants.
const (
	// MaxPlugins bounds the number of manifests loaded from the KV store.
	MaxPlugins = 64

	// MaxWASMSize is the largest accepted plugin binary, in bytes.
	MaxWASMSize = 64 << 20

	// DefaultMemoryLimit is the guest heap size when the manifest does not
	// set one. MaxMemoryLimit caps whatever the manifest asks for.
	DefaultMemoryLimit = 16 << 20
	MaxMemoryLimit     = 256 << 20

	// DefaultExecutionTimeoutSecs bounds a single guest call when the
	// manifest does not set a timeout; MaxExecutionTimeoutSecs caps it.
	DefaultExecutionTimeoutSecs = 30
	MaxExecutionTimeoutSecs     = 300

	// MinPriority and MaxPriority bound handler dispatch priority.
	MinPriority = 0
	MaxPriority = 1000

	// MaxTimersPerPlugin bounds concurrently scheduled timers.
	MaxTimersPerPlugin = 16
	// MinTimerIntervalMS and MaxTimerIntervalMS clamp timer intervals.
	MinTimerIntervalMS = 1_000
	MaxTimerIntervalMS = 86_400_000
	// MaxTimerNameLength bounds timer names, in bytes.
	MaxTimerNameLength = 64

	// MaxHookSubscriptionsPerPlugin bounds active hook subscriptions.
	MaxHookSubscriptionsPerPlugin = 32
	// MaxHookPatternLength bounds subscription patterns, in bytes.
	MaxHookPatternLength = 256

	// MaxRandomBytesPerCall caps a single random_bytes host call.
	MaxRandomBytesPerCall = 4096
)

// KV key layout.
const (
	// ManifestKVPrefix is where plugin manifests live in the cluster KV
	// store, keyed by plugin name.
	ManifestKVPrefix = "__plugin_manifest:"

	// DefaultKVPrefixTemplate is the namespace granted to plugins that do
	// not declare explicit kv_prefixes; the plugin name and a trailing
	// colon are appended.
	DefaultKVPrefixTemplate = "__plugin:"
)

// DefaultKVPrefix returns the namespace prefix granted to a plugin that
// declares no explicit kv_prefixes.
func DefaultKVPrefix(pluginName string) string {
	return DefaultKVPrefixTemplate + pluginName + ":"
}

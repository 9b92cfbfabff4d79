package pluginapi

// Info is the identity a guest reports from its plugin_info export. The
// host rejects plugins whose reported name differs from the manifest.
type Info struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Handles []string `json:"handles"`
}

// Permissions is the capability set granted to a plugin by its manifest.
// Everything defaults to denied; host functions check the matching
// capability before doing any work.
type Permissions struct {
	KVRead      bool `json:"kv_read" yaml:"kv_read"`
	KVWrite     bool `json:"kv_write" yaml:"kv_write"`
	BlobRead    bool `json:"blob_read" yaml:"blob_read"`
	BlobWrite   bool `json:"blob_write" yaml:"blob_write"`
	Randomness  bool `json:"randomness" yaml:"randomness"`
	ClusterInfo bool `json:"cluster_info" yaml:"cluster_info"`
	Signing     bool `json:"signing" yaml:"signing"`
	Timers      bool `json:"timers" yaml:"timers"`
	Hooks       bool `json:"hooks" yaml:"hooks"`
	SQLQuery    bool `json:"sql_query" yaml:"sql_query"`
}

// AllPermissions grants every capability. Test and trusted-plugin helper.
func AllPermissions() Permissions {
	return Permissions{
		KVRead:      true,
		KVWrite:     true,
		BlobRead:    true,
		BlobWrite:   true,
		Randomness:  true,
		ClusterInfo: true,
		Signing:     true,
		Timers:      true,
		Hooks:       true,
		SQLQuery:    true,
	}
}

// State is the lifecycle state of a loaded plugin.
type State uint8

const (
	StateLoading State = iota
	StateInitializing
	StateReady
	StateDegraded
	StateStopping
	StateStopped
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "failed"
	}
}

// CanDispatch reports whether a plugin in this state may handle requests.
func (s State) CanDispatch() bool {
	return s == StateReady || s == StateDegraded
}

// HealthStatus classifies a health report.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the result of a plugin health check.
type Health struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message"`
}

// Healthy builds a healthy report.
func Healthy(message string) Health {
	return Health{Status: HealthHealthy, Message: message}
}

// Degraded builds a degraded report.
func Degraded(message string) Health {
	return Health{Status: HealthDegraded, Message: message}
}

// Unhealthy builds an unhealthy report.
func Unhealthy(message string) Health {
	return Health{Status: HealthUnhealthy, Message: message}
}

// TimerConfig describes a timer a guest asks the host to schedule.
type TimerConfig struct {
	// Name identifies the timer within its plugin; scheduling a name that
	// already exists replaces the old timer.
	Name string `json:"name"`
	// IntervalMS is the delay before the first fire and between fires.
	// Clamped to [MinTimerIntervalMS, MaxTimerIntervalMS].
	IntervalMS uint64 `json:"interval_ms"`
	// Repeating keeps the timer firing until cancelled.
	Repeating bool `json:"repeating"`
	// Cron, when set, schedules by cron expression instead of interval.
	Cron string `json:"cron,omitempty"`
}

// ClampInterval returns the interval bounded to the host limits.
func (c TimerConfig) ClampInterval() uint64 {
	if c.IntervalMS < MinTimerIntervalMS {
		return MinTimerIntervalMS
	}
	if c.IntervalMS > MaxTimerIntervalMS {
		return MaxTimerIntervalMS
	}
	return c.IntervalMS
}

// KVBatchOp is one operation in the simple kv_batch host call.
// Exactly one of the op kinds applies: "set" requires Value, "delete"
// ignores it.
type KVBatchOp struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

const (
	KVBatchOpSet    = "set"
	KVBatchOpDelete = "delete"
)

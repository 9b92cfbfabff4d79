package hooks

// ExecutionMode selects how a handler runs when an event matches.
type ExecutionMode string

const (
	// ExecDirect invokes the handler inline during dispatch.
	ExecDirect ExecutionMode = "direct"
	// ExecJob enqueues the invocation for asynchronous execution.
	ExecJob ExecutionMode = "job"
)

// HandlerConfig describes one configured hook handler.
type HandlerConfig struct {
	// Name uniquely identifies the handler.
	Name string `json:"name" yaml:"name"`
	// Pattern is the NATS-style topic pattern the handler subscribes to.
	Pattern string `json:"pattern" yaml:"pattern"`
	// HandlerType names the handler implementation, e.g. "wasm_plugin".
	HandlerType string `json:"handler_type" yaml:"handler_type"`
	// ExecutionMode selects direct or job execution.
	ExecutionMode ExecutionMode `json:"execution_mode" yaml:"execution_mode"`
	// Enabled gates dispatch to the handler.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// TimeoutMS bounds one handler invocation; 0 means DefaultTimeoutMS.
	TimeoutMS uint64 `json:"timeout_ms" yaml:"timeout_ms"`
	// RetryCount is how many times a failed invocation is retried.
	RetryCount uint32 `json:"retry_count" yaml:"retry_count"`
}

// DefaultTimeoutMS bounds a handler invocation when the config does not
// set one.
const DefaultTimeoutMS = 5_000

// Config is the hook system configuration for a node.
type Config struct {
	// Enabled turns hook dispatch on. A disabled service drops every
	// event without invoking handlers.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Handlers lists the configured handlers.
	Handlers []HandlerConfig `json:"handlers" yaml:"handlers"`
}

// HandlerByName returns the config for a named handler, or nil.
func (c *Config) HandlerByName(name string) *HandlerConfig {
	for i := range c.Handlers {
		if c.Handlers[i].Name == name {
			return &c.Handlers[i]
		}
	}
	return nil
}

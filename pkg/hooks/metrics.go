package hooks

import "sync"

// HandlerMetrics are execution counters for one handler.
type HandlerMetrics struct {
	Successes     uint64 `json:"success_count"`
	Failures      uint64 `json:"failure_count"`
	Dropped       uint64 `json:"dropped_count"`
	JobsSubmitted uint64 `json:"jobs_submitted"`
	AvgLatencyUS  uint64 `json:"avg_duration_us"`
	// MaxDurationUS is always 0; per-call maxima are not tracked.
	MaxDurationUS uint64 `json:"max_duration_us"`
}

// MetricsSnapshot is a point-in-time copy of dispatch metrics.
type MetricsSnapshot struct {
	Global   HandlerMetrics            `json:"global"`
	Handlers map[string]HandlerMetrics `json:"handlers"`
}

// TotalEventsProcessed is the global success plus failure count.
func (s MetricsSnapshot) TotalEventsProcessed() uint64 {
	return s.Global.Successes + s.Global.Failures
}

type handlerCounters struct {
	successes     uint64
	failures      uint64
	dropped       uint64
	jobsSubmitted uint64
	totalUS       uint64
}

func (c *handlerCounters) toMetrics() HandlerMetrics {
	m := HandlerMetrics{
		Successes:     c.successes,
		Failures:      c.failures,
		Dropped:       c.dropped,
		JobsSubmitted: c.jobsSubmitted,
	}
	if n := c.successes + c.failures; n > 0 {
		m.AvgLatencyUS = c.totalUS / n
	}
	return m
}

// metricsRegistry accumulates per-handler dispatch counters.
type metricsRegistry struct {
	mu       sync.Mutex
	global   handlerCounters
	handlers map[string]*handlerCounters
}

func newMetricsRegistry() *metricsRegistry {
	return &metricsRegistry{handlers: make(map[string]*handlerCounters)}
}

func (r *metricsRegistry) counters(handler string) *handlerCounters {
	c, ok := r.handlers[handler]
	if !ok {
		c = &handlerCounters{}
		r.handlers[handler] = c
	}
	return c
}

func (r *metricsRegistry) recordSuccess(handler string, latencyUS uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters(handler)
	c.successes++
	c.totalUS += latencyUS
	r.global.successes++
	r.global.totalUS += latencyUS
}

func (r *metricsRegistry) recordFailure(handler string, latencyUS uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters(handler)
	c.failures++
	c.totalUS += latencyUS
	r.global.failures++
	r.global.totalUS += latencyUS
}

func (r *metricsRegistry) recordDropped(handler string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters(handler).dropped++
	r.global.dropped++
}

func (r *metricsRegistry) recordJobSubmitted(handler string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters(handler).jobsSubmitted++
	r.global.jobsSubmitted++
}

// Snapshot copies the current counters.
func (r *metricsRegistry) Snapshot() MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := MetricsSnapshot{
		Global:   r.global.toMetrics(),
		Handlers: make(map[string]HandlerMetrics, len(r.handlers)),
	}
	for name, c := range r.handlers {
		snap.Handlers[name] = c.toMetrics()
	}
	return snap
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the plugin runtime.
type Metrics struct {
	// Guest call metrics
	GuestCallsTotal   *prometheus.CounterVec
	GuestCallDuration *prometheus.HistogramVec
	GuestCallTimeouts *prometheus.CounterVec

	// Host function metrics
	HostCallsTotal        *prometheus.CounterVec
	HostCallDuration      *prometheus.HistogramVec
	PermissionDeniedTotal *prometheus.CounterVec

	// Plugin lifecycle metrics
	PluginsLoaded      prometheus.Gauge
	PluginLoadsTotal   *prometheus.CounterVec
	PluginReloadsTotal *prometheus.CounterVec

	// Module cache metrics
	ModuleCacheHitsTotal   prometheus.Counter
	ModuleCacheMissesTotal prometheus.Counter

	// Hook and timer metrics
	HookDeliveriesTotal *prometheus.CounterVec
	TimerFiresTotal     *prometheus.CounterVec

	// Admin HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		GuestCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_guest_calls_total",
				Help: "Total number of guest function calls",
			},
			[]string{"plugin", "function", "status"},
		),
		GuestCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aspen_plugin_guest_call_duration_seconds",
				Help:    "Guest function call duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"plugin", "function"},
		),
		GuestCallTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_guest_call_timeouts_total",
				Help: "Total number of guest calls killed by the execution timeout",
			},
			[]string{"plugin", "function"},
		),

		HostCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_host_calls_total",
				Help: "Total number of host function invocations by guests",
			},
			[]string{"plugin", "function", "status"},
		),
		HostCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aspen_plugin_host_call_duration_seconds",
				Help:    "Host function duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin", "function"},
		),
		PermissionDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_permission_denied_total",
				Help: "Total number of host calls rejected by capability checks",
			},
			[]string{"plugin", "capability"},
		),

		PluginsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aspen_plugin_loaded",
				Help: "Number of currently loaded plugins",
			},
		),
		PluginLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_loads_total",
				Help: "Total number of plugin load attempts",
			},
			[]string{"status"},
		),
		PluginReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_reloads_total",
				Help: "Total number of plugin hot reloads",
			},
			[]string{"status"},
		),

		ModuleCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aspen_plugin_module_cache_hits_total",
				Help: "Compiled module cache hits",
			},
		),
		ModuleCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aspen_plugin_module_cache_misses_total",
				Help: "Compiled module cache misses",
			},
		),

		HookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_hook_deliveries_total",
				Help: "Total number of hook events delivered to plugins",
			},
			[]string{"plugin", "status"},
		),
		TimerFiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_timer_fires_total",
				Help: "Total number of plugin timer fires",
			},
			[]string{"plugin", "status"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aspen_plugin_http_requests_total",
				Help: "Total number of admin API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aspen_plugin_http_request_duration_seconds",
				Help:    "Admin API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.GuestCallsTotal,
		m.GuestCallDuration,
		m.GuestCallTimeouts,
		m.HostCallsTotal,
		m.HostCallDuration,
		m.PermissionDeniedTotal,
		m.PluginsLoaded,
		m.PluginLoadsTotal,
		m.PluginReloadsTotal,
		m.ModuleCacheHitsTotal,
		m.ModuleCacheMissesTotal,
		m.HookDeliveriesTotal,
		m.TimerFiresTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments admin API requests.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// MetricsHandler serves a registry for the /metrics endpoint.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

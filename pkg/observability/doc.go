// Package observability provides the node's structured logging and
// Prometheus metrics for the plugin runtime.
//
// # Overview
//
// NewLogger builds the logrus logger every component receives through
// its constructor. NewMetrics creates and registers the runtime's
// Prometheus collectors on a caller-owned registry so tests can use
// isolated registries.
//
// # Related Packages
//
//   - pkg/wasmplugin records guest call and host function metrics
//   - pkg/admin serves the /metrics endpoint
package observability

// Package admin exposes the node's plugin management HTTP API: plugin
// listing and health, hot reload, manual hook triggering, and the
// Prometheus metrics endpoint.
//
// # Overview
//
// The API is operational, not a data plane. Request dispatch to plugins
// happens over the RPC registry; this surface only manages the plugin
// set. All responses are JSON.
//
// # Related Packages
//
//   - pkg/wasmplugin: the live registry the API manages
//   - pkg/hooks: event dispatch behind POST /v1/hooks/trigger
//   - pkg/observability: metrics middleware and the /metrics handler
package admin

// Package config loads node configuration from ASPEN_-prefixed
// environment variables.
//
// # Overview
//
// Everything has a working default: a bare process starts with an
// in-memory KV store, in-memory blob storage, no plugins, and the
// admin API on :8080. Validation happens at load time so a bad
// environment fails fast.
//
// # Related Packages
//
//   - cmd/aspen-plugin-host: the binary wired from this configuration
package config

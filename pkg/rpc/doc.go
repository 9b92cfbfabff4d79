// Package rpc defines the client request envelope, the handler
// contract, and the dispatch registry the plugin runtime plugs into.
//
// # Overview
//
// Requests are externally tagged JSON: a unit variant serializes as a
// bare string ("Ping"), a struct variant as a single-key object
// ({"ReadKey":{"key":"k"}}). The Registry routes a request to the
// highest-priority handler that claims its variant.
//
// # Related Packages
//
//   - pkg/wasmplugin registers one Handler per loaded plugin
//   - pkg/kv and pkg/blob back the Context passed to handlers
package rpc

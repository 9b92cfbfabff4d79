package rpc

import (
	"context"
	"crypto/ed25519"

	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/cluster"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hlc"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hooks"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/sqlexec"
)

// ServiceExecutor handles domain-specific operations (docs, jobs, CI)
// dispatched through the service_execute host function.
type ServiceExecutor interface {
	// ServiceName identifies the domain this executor serves.
	ServiceName() string
	// Execute processes a JSON request and returns a JSON response.
	Execute(ctx context.Context, requestJSON []byte) ([]byte, error)
}

// Context bundles the node services a request handler may touch. All
// optional fields are nil when the node does not provide the service.
type Context struct {
	// KV is the cluster key-value store.
	KV kv.Store
	// Blob is content-addressed binary storage.
	Blob blob.Store
	// Cluster answers leadership queries.
	Cluster cluster.Controller
	// NodeID is this node's identifier.
	NodeID uint64
	// SecretKey is the node's Ed25519 signing key.
	SecretKey ed25519.PrivateKey
	// Clock is the node's hybrid logical clock.
	Clock *hlc.Clock
	// Hooks is the hook dispatch service; nil when hooks are disabled.
	Hooks *hooks.Service
	// SQL executes read-only queries; nil without a SQL-capable backend.
	SQL sqlexec.Executor
	// Services are the registered domain executors.
	Services []ServiceExecutor
	// Logger is the node logger.
	Logger *logrus.Logger
}

// ServiceByName finds a registered executor, or nil.
func (c *Context) ServiceByName(name string) ServiceExecutor {
	for _, s := range c.Services {
		if s.ServiceName() == name {
			return s
		}
	}
	return nil
}

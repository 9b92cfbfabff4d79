package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler processes requests for the variants it claims.
type Handler interface {
	// Name identifies the handler for logging and management.
	Name() string
	// CanHandle reports whether the handler serves a request variant.
	CanHandle(variant string) bool
	// Handle processes one request.
	Handle(ctx context.Context, reqCtx *Context, req *Request) (*Response, error)
}

// ErrNoHandler is returned when no registered handler claims a variant.
type ErrNoHandler struct {
	Variant string
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("no handler for request variant '%s'", e.Variant)
}

type registeredHandler struct {
	handler  Handler
	priority uint32
	plugin   bool
}

// Registry routes requests to handlers by variant name. Static node
// handlers and plugin handlers coexist; plugin handlers can be swapped
// as a group during hot reload without touching static ones.
type Registry struct {
	logger *logrus.Logger

	mu       sync.RWMutex
	handlers []registeredHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{logger: logger}
}

// Register adds a static handler at the given priority.
func (r *Registry) Register(h Handler, priority uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, registeredHandler{handler: h, priority: priority})
	r.sortLocked()
}

// RegisterPlugin adds a plugin-backed handler at the given priority.
func (r *Registry) RegisterPlugin(h Handler, priority uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, registeredHandler{handler: h, priority: priority, plugin: true})
	r.sortLocked()
}

// SwapPluginHandlers atomically replaces every plugin handler with the
// given set. Static handlers are untouched. Used by hot reload so
// requests never observe a half-swapped registry.
func (r *Registry) SwapPluginHandlers(handlers []Handler, priorities []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.handlers[:0]
	for _, rh := range r.handlers {
		if !rh.plugin {
			kept = append(kept, rh)
		}
	}
	r.handlers = kept
	for i, h := range handlers {
		var priority uint32
		if i < len(priorities) {
			priority = priorities[i]
		}
		r.handlers = append(r.handlers, registeredHandler{handler: h, priority: priority, plugin: true})
	}
	r.sortLocked()
}

// Higher priority dispatches first; name breaks ties for determinism.
func (r *Registry) sortLocked() {
	sort.SliceStable(r.handlers, func(i, j int) bool {
		if r.handlers[i].priority != r.handlers[j].priority {
			return r.handlers[i].priority > r.handlers[j].priority
		}
		return r.handlers[i].handler.Name() < r.handlers[j].handler.Name()
	})
}

// HandlerNames lists registered handlers in dispatch order.
func (r *Registry) HandlerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for _, rh := range r.handlers {
		names = append(names, rh.handler.Name())
	}
	return names
}

// Dispatch routes a request to the highest-priority handler that
// claims its variant.
func (r *Registry) Dispatch(ctx context.Context, reqCtx *Context, req *Request) (*Response, error) {
	r.mu.RLock()
	var target Handler
	for _, rh := range r.handlers {
		if rh.handler.CanHandle(req.Variant) {
			target = rh.handler
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return nil, &ErrNoHandler{Variant: req.Variant}
	}

	r.logger.WithFields(logrus.Fields{
		"variant": req.Variant,
		"handler": target.Name(),
	}).Debug("Dispatching request")
	return target.Handle(ctx, reqCtx, req)
}

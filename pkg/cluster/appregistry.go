package cluster

import "sync"

// AppManifest describes an application capability provided by this
// node, advertised to peers during federation handshakes.
type AppManifest struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// AppRegistry tracks the application capabilities the local node
// provides. Plugins with an app_id register here when they load.
type AppRegistry struct {
	mu   sync.RWMutex
	apps map[string]AppManifest
}

// NewAppRegistry creates an empty registry.
func NewAppRegistry() *AppRegistry {
	return &AppRegistry{apps: make(map[string]AppManifest)}
}

// Register adds or replaces a capability.
func (r *AppRegistry) Register(m AppManifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[m.ID] = m
}

// Deregister removes a capability.
func (r *AppRegistry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.apps, id)
}

// Get returns a registered capability by ID.
func (r *AppRegistry) Get(id string) (AppManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.apps[id]
	return m, ok
}

// List returns all registered capabilities.
func (r *AppRegistry) List() []AppManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AppManifest, 0, len(r.apps))
	for _, m := range r.apps {
		out = append(out, m)
	}
	return out
}

// IsEmpty reports whether no capabilities are registered.
func (r *AppRegistry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps) == 0
}

package wasmplugin

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/blob"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/cluster"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hlc"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hooks"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/observability"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/rpc"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/sqlexec"
)

// wasmCacheEntries bounds the in-memory cache of plugin binaries keyed
// by content hash.
const wasmCacheEntries = 32

// RegistryConfig wires the live registry into the node.
type RegistryConfig struct {
	KV          kv.Store
	Blob        blob.Store
	Cluster     cluster.Controller
	NodeID      uint64
	SecretKey   ed25519.PrivateKey
	Clock       *hlc.Clock
	HookService *hooks.Service
	HooksConfig hooks.Config
	SQL         sqlexec.Executor
	Services    []rpc.ServiceExecutor
	Apps        *cluster.AppRegistry
	RPC         *rpc.Registry
	Logger      *logrus.Logger
	Metrics     *observability.Metrics

	// TrustedKey, when set, makes unsigned or wrongly signed manifests
	// load failures.
	TrustedKey ed25519.PublicKey
}

// LiveRegistry owns every loaded plugin on this node. Manifests come
// from the KV store, binaries from the blob store; handlers are
// published to the RPC registry as a group so hot reload swaps the set
// atomically.
type LiveRegistry struct {
	cfg RegistryConfig

	compileCache wazero.CompilationCache
	wasmCache    *lru.Cache[string, []byte]

	mu      sync.RWMutex
	plugins map[string]*PluginHandler
}

// NewLiveRegistry creates an empty registry. Call LoadAll to bring the
// cluster's plugins up.
func NewLiveRegistry(cfg RegistryConfig) (*LiveRegistry, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	wasmCache, err := lru.New[string, []byte](wasmCacheEntries)
	if err != nil {
		return nil, err
	}
	return &LiveRegistry{
		cfg:          cfg,
		compileCache: wazero.NewCompilationCache(),
		wasmCache:    wasmCache,
		plugins:      make(map[string]*PluginHandler),
	}, nil
}

// scanManifests reads every manifest under the manifest prefix.
func (r *LiveRegistry) scanManifests(ctx context.Context) ([]*pluginapi.Manifest, error) {
	result, err := r.cfg.KV.Scan(ctx, kv.ScanRequest{
		Prefix: pluginapi.ManifestKVPrefix,
		Limit:  pluginapi.MaxPlugins,
	})
	if err != nil {
		return nil, fmt.Errorf("manifest scan failed: %w", err)
	}

	var manifests []*pluginapi.Manifest
	for _, entry := range result.Entries {
		var manifest pluginapi.Manifest
		if err := json.Unmarshal(entry.Value, &manifest); err != nil {
			r.cfg.Logger.WithFields(logrus.Fields{"key": entry.Key, "error": err}).
				Warn("skipping unparseable plugin manifest")
			continue
		}
		manifests = append(manifests, &manifest)
	}
	return manifests, nil
}

// fetchWASM returns the plugin binary for a manifest hash, preferring
// the in-memory cache over the blob store.
func (r *LiveRegistry) fetchWASM(ctx context.Context, hash string) ([]byte, error) {
	if wasm, ok := r.wasmCache.Get(hash); ok {
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ModuleCacheHitsTotal.Inc()
		}
		return wasm, nil
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ModuleCacheMissesTotal.Inc()
	}

	ref, err := blob.ParseRef(hash)
	if err != nil {
		return nil, fmt.Errorf("invalid wasm_hash: %w", err)
	}
	wasm, err := r.cfg.Blob.GetBytes(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("blob fetch failed: %w", err)
	}
	if wasm == nil {
		return nil, fmt.Errorf("plugin binary %s not found in blob store", hash)
	}
	if len(wasm) > pluginapi.MaxWASMSize {
		return nil, fmt.Errorf("plugin binary exceeds %d bytes", pluginapi.MaxWASMSize)
	}
	if blob.RefOf(wasm) != ref {
		return nil, fmt.Errorf("plugin binary does not match manifest hash %s", hash)
	}
	r.wasmCache.Add(hash, wasm)
	return wasm, nil
}

// loadOne instantiates and initializes a single plugin from its
// manifest.
func (r *LiveRegistry) loadOne(ctx context.Context, manifest *pluginapi.Manifest) (*PluginHandler, error) {
	if errs := manifest.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid manifest: %v", errs)
	}
	if r.cfg.TrustedKey != nil {
		if err := manifest.VerifySignature(r.cfg.TrustedKey); err != nil {
			return nil, fmt.Errorf("manifest signature rejected: %w", err)
		}
	}

	wasm, err := r.fetchWASM(ctx, manifest.WASMHash)
	if err != nil {
		return nil, err
	}

	host := NewHostContext(manifest.Name, r.cfg.KV, r.cfg.Blob, r.cfg.Cluster, r.cfg.NodeID, r.cfg.Logger).
		WithPermissions(manifest.Permissions).
		WithKVPrefixes(manifest.KVPrefixes).
		WithSecretKey(r.cfg.SecretKey).
		WithClock(r.cfg.Clock).
		WithHooks(r.cfg.HookService, r.cfg.HooksConfig).
		WithSQL(r.cfg.SQL).
		WithServices(r.cfg.Services).
		WithMetrics(r.cfg.Metrics)

	sandbox, err := NewSandbox(ctx, SandboxConfig{
		PluginName:       manifest.Name,
		WASM:             wasm,
		Host:             host,
		MemoryLimit:      manifest.EffectiveMemoryLimit(),
		CompilationCache: r.compileCache,
	})
	if err != nil {
		return nil, err
	}

	handler := NewPluginHandler(manifest, sandbox, host, r.cfg.Logger, r.cfg.Metrics)

	info, err := handler.CallInfo(ctx)
	if err != nil {
		_ = handler.CallShutdown(ctx)
		return nil, err
	}
	if info.Name != manifest.Name {
		_ = handler.CallShutdown(ctx)
		return nil, fmt.Errorf("plugin identity mismatch: manifest says '%s', binary says '%s'", manifest.Name, info.Name)
	}

	// Shutdown rather than a bare sandbox close: a guest that scheduled
	// timers or subscriptions before failing init must not leave them
	// running.
	if err := handler.CallInit(ctx); err != nil {
		_ = handler.CallShutdown(ctx)
		return nil, err
	}

	r.registerAppCapability(manifest)
	return handler, nil
}

// registerAppCapability advertises the plugin's application capability
// when the manifest carries an app_id.
func (r *LiveRegistry) registerAppCapability(manifest *pluginapi.Manifest) {
	if manifest.AppID == "" || r.cfg.Apps == nil {
		return
	}
	r.cfg.Apps.Register(cluster.AppManifest{ID: manifest.AppID, Version: manifest.Version})
	r.cfg.Logger.WithFields(logrus.Fields{
		"plugin": manifest.Name,
		"app_id": manifest.AppID,
	}).Info("registered plugin app capability")
}

// LoadAll loads every enabled manifest in the KV store and publishes
// the resulting handlers to the RPC registry. Individual load failures
// are logged and skipped.
func (r *LiveRegistry) LoadAll(ctx context.Context) error {
	return r.reload(ctx, false)
}

// ReloadAll rebuilds every plugin from the current manifests and swaps
// the handler set atomically. Old instances shut down after the swap
// so requests never see an empty registry.
func (r *LiveRegistry) ReloadAll(ctx context.Context) error {
	return r.reload(ctx, true)
}

func (r *LiveRegistry) reload(ctx context.Context, isReload bool) error {
	manifests, err := r.scanManifests(ctx)
	if err != nil {
		return err
	}

	var loadCounter *prometheus.CounterVec
	if r.cfg.Metrics != nil {
		loadCounter = r.cfg.Metrics.PluginLoadsTotal
		if isReload {
			loadCounter = r.cfg.Metrics.PluginReloadsTotal
		}
	}
	loaded := make(map[string]*PluginHandler, len(manifests))
	for _, manifest := range manifests {
		if !manifest.Enabled {
			r.cfg.Logger.WithField("plugin", manifest.Name).Debug("plugin disabled, skipping")
			continue
		}
		handler, err := r.loadOne(ctx, manifest)
		if err != nil {
			r.cfg.Logger.WithFields(logrus.Fields{"plugin": manifest.Name, "error": err}).
				Error("plugin load failed")
			if loadCounter != nil {
				loadCounter.WithLabelValues("error").Inc()
			}
			continue
		}
		loaded[manifest.Name] = handler
		if loadCounter != nil {
			loadCounter.WithLabelValues("ok").Inc()
		}
		r.cfg.Logger.WithFields(logrus.Fields{
			"plugin":   manifest.Name,
			"version":  manifest.Version,
			"priority": manifest.ClampedPriority(),
		}).Info("plugin loaded")
	}

	r.mu.Lock()
	old := r.plugins
	r.plugins = loaded
	r.mu.Unlock()

	r.publishHandlers(manifests, loaded)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.PluginsLoaded.Set(float64(len(loaded)))
	}

	for name, handler := range old {
		if err := handler.CallShutdown(ctx); err != nil {
			r.cfg.Logger.WithFields(logrus.Fields{"plugin": name, "error": err}).
				Warn("old plugin instance shutdown failed")
		}
	}
	return nil
}

// ReloadOne rebuilds a single plugin from its stored manifest, leaving
// the rest of the set untouched.
func (r *LiveRegistry) ReloadOne(ctx context.Context, name string) error {
	result, err := r.cfg.KV.Read(ctx, kv.ReadRequest{Key: pluginapi.ManifestKVPrefix + name})
	if err != nil {
		return fmt.Errorf("manifest read failed: %w", err)
	}
	if result.KV == nil {
		return fmt.Errorf("no manifest for plugin '%s'", name)
	}
	var manifest pluginapi.Manifest
	if err := json.Unmarshal(result.KV.Value, &manifest); err != nil {
		return fmt.Errorf("manifest for '%s' is unparseable: %w", name, err)
	}

	var handler *PluginHandler
	if manifest.Enabled {
		handler, err = r.loadOne(ctx, &manifest)
		if err != nil {
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.PluginReloadsTotal.WithLabelValues("error").Inc()
			}
			return err
		}
	}

	r.mu.Lock()
	old := r.plugins[name]
	if handler != nil {
		r.plugins[name] = handler
	} else {
		delete(r.plugins, name)
	}
	count := len(r.plugins)
	r.mu.Unlock()

	r.republishHandlers()
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.PluginsLoaded.Set(float64(count))
		r.cfg.Metrics.PluginReloadsTotal.WithLabelValues("ok").Inc()
	}

	if old != nil {
		if err := old.CallShutdown(ctx); err != nil {
			r.cfg.Logger.WithFields(logrus.Fields{"plugin": name, "error": err}).
				Warn("old plugin instance shutdown failed")
		}
	}
	return nil
}

// publishHandlers swaps the plugin handler set in the RPC registry,
// ordered by the manifests' clamped priorities.
func (r *LiveRegistry) publishHandlers(manifests []*pluginapi.Manifest, loaded map[string]*PluginHandler) {
	if r.cfg.RPC == nil {
		return
	}
	handlers := make([]rpc.Handler, 0, len(loaded))
	priorities := make([]uint32, 0, len(loaded))
	for _, manifest := range manifests {
		handler, ok := loaded[manifest.Name]
		if !ok {
			continue
		}
		handlers = append(handlers, handler)
		priorities = append(priorities, manifest.ClampedPriority())
	}
	r.cfg.RPC.SwapPluginHandlers(handlers, priorities)
}

// republishHandlers refreshes the RPC registry from the current plugin
// map after a single-plugin change.
func (r *LiveRegistry) republishHandlers() {
	if r.cfg.RPC == nil {
		return
	}
	r.mu.RLock()
	handlers := make([]rpc.Handler, 0, len(r.plugins))
	priorities := make([]uint32, 0, len(r.plugins))
	for _, handler := range r.plugins {
		handlers = append(handlers, handler)
		priorities = append(priorities, handler.Priority())
	}
	r.mu.RUnlock()
	r.cfg.RPC.SwapPluginHandlers(handlers, priorities)
}

// ShutdownAll stops every plugin and clears the registry.
func (r *LiveRegistry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	old := r.plugins
	r.plugins = make(map[string]*PluginHandler)
	r.mu.Unlock()

	if r.cfg.RPC != nil {
		r.cfg.RPC.SwapPluginHandlers(nil, nil)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.PluginsLoaded.Set(0)
	}

	for name, handler := range old {
		if err := handler.CallShutdown(ctx); err != nil {
			r.cfg.Logger.WithFields(logrus.Fields{"plugin": name, "error": err}).
				Warn("plugin shutdown failed")
		}
	}
}

// Plugin returns a loaded plugin by name.
func (r *LiveRegistry) Plugin(name string) (*PluginHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.plugins[name]
	return handler, ok
}

// Names returns the loaded plugin names.
func (r *LiveRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// Len returns the number of loaded plugins.
func (r *LiveRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// HealthAll probes every loaded plugin.
func (r *LiveRegistry) HealthAll(ctx context.Context) map[string]pluginapi.Health {
	r.mu.RLock()
	snapshot := make(map[string]*PluginHandler, len(r.plugins))
	for name, handler := range r.plugins {
		snapshot[name] = handler
	}
	r.mu.RUnlock()

	out := make(map[string]pluginapi.Health, len(snapshot))
	for name, handler := range snapshot {
		out[name] = handler.CallHealth(ctx)
	}
	return out
}

// DeliverHookEvent fans a cluster event out to every plugin with a
// matching subscription.
func (r *LiveRegistry) DeliverHookEvent(ctx context.Context, event *hooks.Event) int {
	r.mu.RLock()
	snapshot := make([]*PluginHandler, 0, len(r.plugins))
	for _, handler := range r.plugins {
		snapshot = append(snapshot, handler)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, handler := range snapshot {
		if !handler.State().CanDispatch() {
			continue
		}
		if handler.Router().Deliver(ctx, event) {
			delivered++
		}
	}
	return delivered
}

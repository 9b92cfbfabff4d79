package wasmplugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/observability"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/rpc"
)

// healthCheckTimeout bounds a plugin_health call independently of the
// manifest execution timeout.
const healthCheckTimeout = 5 * time.Second

// PluginHandler adapts one loaded plugin to the rpc.Handler interface
// and owns its lifecycle: init, health checks, timers, hook
// subscriptions, shutdown.
type PluginHandler struct {
	name     string
	version  string
	handles  map[string]struct{}
	guest    Guest
	host     *HostContext
	timeout  time.Duration
	priority uint32
	logger   *logrus.Logger
	metrics  *observability.Metrics

	scheduler *Scheduler
	router    *EventRouter

	state atomic.Uint32

	// shutdownOnce makes CallShutdown idempotent under concurrent
	// reload and stop paths.
	shutdownOnce sync.Once
}

// NewPluginHandler wires a guest instance to its host context. The
// handler starts in the loading state; call Init before dispatching.
func NewPluginHandler(manifest *pluginapi.Manifest, guest Guest, host *HostContext, logger *logrus.Logger, metrics *observability.Metrics) *PluginHandler {
	if logger == nil {
		logger = logrus.New()
	}
	handles := make(map[string]struct{}, len(manifest.Handles))
	for _, v := range manifest.Handles {
		handles[v] = struct{}{}
	}
	h := &PluginHandler{
		name:     manifest.Name,
		version:  manifest.Version,
		handles:  handles,
		guest:    guest,
		host:     host,
		timeout:  manifest.EffectiveExecutionTimeout(),
		priority: manifest.ClampedPriority(),
		logger:   logger,
		metrics:  metrics,
	}
	h.state.Store(uint32(pluginapi.StateLoading))

	// Timer and hook callbacks may themselves schedule timers or change
	// subscriptions, so their guest goes through the draining wrapper.
	callbackGuest := &drainingGuest{handler: h}
	h.scheduler = NewScheduler(manifest.Name, callbackGuest, h.timeout, logger, metrics)
	h.router = NewEventRouter(manifest.Name, callbackGuest, h.timeout, logger, metrics)
	return h
}

// drainingGuest applies deferred scheduler and subscription commands
// after each guest call returns.
type drainingGuest struct {
	handler *PluginHandler
}

func (g *drainingGuest) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	out, err := g.handler.callGuest(ctx, export, payload)
	g.handler.applyDeferredCommands()
	return out, err
}

func (g *drainingGuest) Close(ctx context.Context) error {
	return g.handler.guest.Close(ctx)
}

// State returns the current lifecycle state.
func (h *PluginHandler) State() pluginapi.State {
	return pluginapi.State(h.state.Load())
}

func (h *PluginHandler) setState(s pluginapi.State) {
	h.state.Store(uint32(s))
}

// Priority returns the dispatch priority from the manifest, clamped to
// the host bounds.
func (h *PluginHandler) Priority() uint32 {
	return h.priority
}

// Version returns the manifest version of the loaded plugin.
func (h *PluginHandler) Version() string {
	return h.version
}

// Handles returns the request variants the plugin claims.
func (h *PluginHandler) Handles() []string {
	out := make([]string, 0, len(h.handles))
	for v := range h.handles {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Router returns the plugin's hook event router.
func (h *PluginHandler) Router() *EventRouter {
	return h.router
}

// Scheduler returns the plugin's timer scheduler.
func (h *PluginHandler) Scheduler() *Scheduler {
	return h.scheduler
}

// callGuest invokes a guest export with metrics and timeout accounting.
func (h *PluginHandler) callGuest(ctx context.Context, export string, payload []byte) ([]byte, error) {
	start := time.Now()
	out, err := h.guest.Call(ctx, export, payload)
	elapsed := time.Since(start)

	if h.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				h.metrics.GuestCallTimeouts.WithLabelValues(h.name, export).Inc()
			}
		}
		h.metrics.GuestCallsTotal.WithLabelValues(h.name, export, status).Inc()
		h.metrics.GuestCallDuration.WithLabelValues(h.name, export).Observe(elapsed.Seconds())
	}
	return out, err
}

// applyDeferredCommands drains the timer and subscription requests the
// guest enqueued during its last call.
func (h *PluginHandler) applyDeferredCommands() {
	for _, cmd := range h.host.DrainSchedulerCommands() {
		switch {
		case cmd.Schedule != nil:
			if err := h.scheduler.Schedule(*cmd.Schedule); err != nil {
				h.logger.WithFields(logrus.Fields{"plugin": h.name, "timer": cmd.Schedule.Name, "error": err}).
					Warn("timer schedule rejected")
			}
		case cmd.CancelName != "":
			h.scheduler.Cancel(cmd.CancelName)
		}
	}
	for _, cmd := range h.host.DrainSubscriptionCommands() {
		if cmd.Unsubscribe {
			h.router.Unsubscribe(cmd.Pattern)
			continue
		}
		if err := h.router.Subscribe(cmd.Pattern); err != nil {
			h.logger.WithFields(logrus.Fields{"plugin": h.name, "pattern": cmd.Pattern, "error": err}).
				Warn("hook subscription rejected")
		}
	}
}

// CallInfo asks the guest for its identity.
func (h *PluginHandler) CallInfo(ctx context.Context) (*pluginapi.Info, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	out, err := h.callGuest(callCtx, ExportInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("plugin_info failed: %w", err)
	}
	var info pluginapi.Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("plugin_info returned invalid JSON: %w", err)
	}
	return &info, nil
}

// CallInit runs the guest's init entry. The guest must return
// {"ok": true}; anything else marks the plugin failed.
func (h *PluginHandler) CallInit(ctx context.Context) error {
	h.setState(pluginapi.StateInitializing)
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	out, err := h.callGuest(callCtx, ExportInit, nil)
	h.applyDeferredCommands()
	if err != nil {
		h.setState(pluginapi.StateFailed)
		return fmt.Errorf("plugin_init failed: %w", err)
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		h.setState(pluginapi.StateFailed)
		return fmt.Errorf("plugin_init returned invalid JSON: %w", err)
	}
	if !result.OK {
		h.setState(pluginapi.StateFailed)
		if result.Error != "" {
			return fmt.Errorf("plugin_init rejected: %s", result.Error)
		}
		return fmt.Errorf("plugin_init rejected")
	}

	h.setState(pluginapi.StateReady)
	h.logger.WithField("plugin", h.name).Info("plugin initialized")
	return nil
}

// CallShutdown stops timers and subscriptions, then gives the guest a
// chance to clean up. The plugin ends up stopped even when the guest
// call fails.
func (h *PluginHandler) CallShutdown(ctx context.Context) error {
	var err error
	h.shutdownOnce.Do(func() {
		h.setState(pluginapi.StateStopping)
		h.scheduler.Close()
		h.router.UnsubscribeAll()

		callCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if _, callErr := h.callGuest(callCtx, ExportShutdown, nil); callErr != nil {
			h.logger.WithFields(logrus.Fields{"plugin": h.name, "error": callErr}).
				Warn("plugin_shutdown failed")
			err = callErr
		}
		if closeErr := h.guest.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
		h.setState(pluginapi.StateStopped)
		h.logger.WithField("plugin", h.name).Info("plugin stopped")
	})
	return err
}

// CallHealth probes the guest. A failed or unhealthy probe degrades a
// ready plugin; a healthy probe restores a degraded one.
func (h *PluginHandler) CallHealth(ctx context.Context) pluginapi.Health {
	state := h.State()
	if !state.CanDispatch() {
		return pluginapi.Unhealthy(fmt.Sprintf("plugin is %s", state))
	}

	callCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	out, err := h.callGuest(callCtx, ExportHealth, nil)
	if err != nil {
		h.setState(pluginapi.StateDegraded)
		return pluginapi.Unhealthy(fmt.Sprintf("plugin_health failed: %v", err))
	}

	var health pluginapi.Health
	if err := json.Unmarshal(out, &health); err != nil {
		h.setState(pluginapi.StateDegraded)
		return pluginapi.Unhealthy(fmt.Sprintf("plugin_health returned invalid JSON: %v", err))
	}

	switch health.Status {
	case pluginapi.HealthHealthy:
		h.setState(pluginapi.StateReady)
	default:
		h.setState(pluginapi.StateDegraded)
	}
	return health
}

// Name implements rpc.Handler.
func (h *PluginHandler) Name() string {
	return h.name
}

// CanHandle implements rpc.Handler. "*" in the manifest handles list
// claims every variant.
func (h *PluginHandler) CanHandle(variant string) bool {
	if !h.State().CanDispatch() {
		return false
	}
	if _, ok := h.handles["*"]; ok {
		return true
	}
	_, ok := h.handles[variant]
	return ok
}

// Handle implements rpc.Handler: the request envelope is serialized to
// the guest's handle_request export and the response envelope parsed
// back. Deferred timer and subscription commands apply after the call.
func (h *PluginHandler) Handle(ctx context.Context, _ *rpc.Context, req *rpc.Request) (*rpc.Response, error) {
	if state := h.State(); !state.CanDispatch() {
		return nil, fmt.Errorf("plugin '%s' cannot handle requests while %s", h.name, state)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("request encode failed: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	out, err := h.callGuest(callCtx, ExportHandle, payload)
	h.applyDeferredCommands()
	if err != nil {
		return nil, fmt.Errorf("plugin '%s' handle_request failed: %w", h.name, err)
	}

	var resp rpc.Response
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("plugin '%s' returned an invalid response envelope: %w", h.name, err)
	}
	return &resp, nil
}

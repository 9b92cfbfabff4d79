package wasmplugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/rpc"
)

type fakeCall struct {
	Export  string
	Payload []byte
}

// fakeGuest stands in for a loaded wasm module in tests.
type fakeGuest struct {
	mu        sync.Mutex
	calls     []fakeCall
	responses map[string][]byte
	errs      map[string]error
	onCall    func(export string, payload []byte)
	closed    bool
}

func newFakeGuest() *fakeGuest {
	return &fakeGuest{
		responses: map[string][]byte{
			ExportInfo:     []byte(`{"name":"test","version":"1.0.0","handles":["Ping"]}`),
			ExportInit:     []byte(`{"ok":true}`),
			ExportHealth:   []byte(`{"status":"healthy","message":""}`),
			ExportHandle:   []byte(`{"Pong":{}}`),
			ExportShutdown: []byte(`{}`),
		},
	}
}

func (g *fakeGuest) Call(_ context.Context, export string, payload []byte) ([]byte, error) {
	g.mu.Lock()
	g.calls = append(g.calls, fakeCall{Export: export, Payload: payload})
	onCall := g.onCall
	response := g.responses[export]
	err := g.errs[export]
	g.mu.Unlock()

	if onCall != nil {
		onCall(export, payload)
	}
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (g *fakeGuest) Close(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGuest) callsTo(export string) []fakeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []fakeCall
	for _, c := range g.calls {
		if c.Export == export {
			out = append(out, c)
		}
	}
	return out
}

func newTestHandler(guest *fakeGuest) (*PluginHandler, *HostContext) {
	host := newTestHost(pluginapi.AllPermissions())
	manifest := &pluginapi.Manifest{
		Name:    "test",
		Version: "1.0.0",
		Handles: []string{"Ping"},
		Enabled: true,
	}
	return NewPluginHandler(manifest, guest, host, quietLogger(), nil), host
}

func TestHandlerLifecycle(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)
	ctx := context.Background()

	assert.Equal(t, pluginapi.StateLoading, h.State())

	info, err := h.CallInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Name)

	require.NoError(t, h.CallInit(ctx))
	assert.Equal(t, pluginapi.StateReady, h.State())

	require.NoError(t, h.CallShutdown(ctx))
	assert.Equal(t, pluginapi.StateStopped, h.State())
	assert.True(t, guest.closed)
}

func TestHandlerInitRejected(t *testing.T) {
	guest := newFakeGuest()
	guest.responses[ExportInit] = []byte(`{"ok":false,"error":"bad config"}`)
	h, _ := newTestHandler(guest)

	err := h.CallInit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")
	assert.Equal(t, pluginapi.StateFailed, h.State())
}

func TestHandlerInitCallFailure(t *testing.T) {
	guest := newFakeGuest()
	guest.errs = map[string]error{ExportInit: errors.New("trap")}
	h, _ := newTestHandler(guest)

	require.Error(t, h.CallInit(context.Background()))
	assert.Equal(t, pluginapi.StateFailed, h.State())
}

func TestHandlerDispatch(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)
	ctx := context.Background()
	require.NoError(t, h.CallInit(ctx))

	req, err := rpc.NewRequest("Ping", nil)
	require.NoError(t, err)

	resp, err := h.Handle(ctx, nil, req)
	require.NoError(t, err)
	assert.Equal(t, "Pong", resp.Variant)

	calls := guest.callsTo(ExportHandle)
	require.Len(t, calls, 1)
	assert.JSONEq(t, `"Ping"`, string(calls[0].Payload))
}

func TestHandlerRefusesWhenNotReady(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)

	req, err := rpc.NewRequest("Ping", nil)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), nil, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading")
}

func TestHandlerCanHandle(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)
	require.NoError(t, h.CallInit(context.Background()))

	assert.True(t, h.CanHandle("Ping"))
	assert.False(t, h.CanHandle("Other"))
	assert.Equal(t, "1.0.0", h.Version())
	assert.Equal(t, []string{"Ping"}, h.Handles())

	wildcard := NewPluginHandler(&pluginapi.Manifest{Name: "w", Version: "1.0.0", Handles: []string{"*"}},
		newFakeGuest(), newTestHost(pluginapi.AllPermissions()), quietLogger(), nil)
	require.NoError(t, wildcard.CallInit(context.Background()))
	assert.True(t, wildcard.CanHandle("Anything"))
}

func TestHandlerCanHandleGatedByState(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)
	assert.False(t, h.CanHandle("Ping"))
}

func TestHandlerHealthTransitions(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)
	ctx := context.Background()
	require.NoError(t, h.CallInit(ctx))

	health := h.CallHealth(ctx)
	assert.Equal(t, pluginapi.HealthHealthy, health.Status)
	assert.Equal(t, pluginapi.StateReady, h.State())

	guest.mu.Lock()
	guest.responses[ExportHealth] = []byte(`{"status":"unhealthy","message":"db gone"}`)
	guest.mu.Unlock()
	health = h.CallHealth(ctx)
	assert.Equal(t, pluginapi.HealthUnhealthy, health.Status)
	assert.Equal(t, pluginapi.StateDegraded, h.State())

	// A degraded plugin still dispatches and recovers on a healthy probe.
	assert.True(t, h.CanHandle("Ping"))
	guest.mu.Lock()
	guest.responses[ExportHealth] = []byte(`{"status":"healthy","message":""}`)
	guest.mu.Unlock()
	h.CallHealth(ctx)
	assert.Equal(t, pluginapi.StateReady, h.State())
}

func TestHandlerHealthProbeFailureDegrades(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)
	ctx := context.Background()
	require.NoError(t, h.CallInit(ctx))

	guest.mu.Lock()
	guest.errs = map[string]error{ExportHealth: errors.New("trap")}
	guest.mu.Unlock()

	health := h.CallHealth(ctx)
	assert.Equal(t, pluginapi.HealthUnhealthy, health.Status)
	assert.Equal(t, pluginapi.StateDegraded, h.State())
}

func TestHandlerAppliesDeferredCommands(t *testing.T) {
	guest := newFakeGuest()
	h, host := newTestHandler(guest)
	ctx := context.Background()
	require.NoError(t, h.CallInit(ctx))

	guest.onCall = func(export string, _ []byte) {
		if export != ExportHandle {
			return
		}
		config, _ := json.Marshal(pluginapi.TimerConfig{Name: "tick", IntervalMS: 60_000, Repeating: true})
		host.ScheduleTimer(config)
		host.HookSubscribe("hooks.kv.*")
	}

	req, err := rpc.NewRequest("Ping", nil)
	require.NoError(t, err)
	_, err = h.Handle(ctx, nil, req)
	require.NoError(t, err)

	assert.Equal(t, 1, h.Scheduler().Len())
	assert.Equal(t, []string{"hooks.kv.*"}, h.Router().Patterns())

	// Shutdown tears both down.
	require.NoError(t, h.CallShutdown(ctx))
	assert.Equal(t, 0, h.Scheduler().Len())
	assert.Empty(t, h.Router().Patterns())
}

func TestFailedInitCancelsScheduledTimers(t *testing.T) {
	scheduleOnInit := func(host *HostContext) func(string, []byte) {
		return func(export string, _ []byte) {
			if export != ExportInit {
				return
			}
			config, _ := json.Marshal(pluginapi.TimerConfig{Name: "tick", IntervalMS: 60_000, Repeating: true})
			host.ScheduleTimer(config)
		}
	}
	ctx := context.Background()

	// Guest schedules a timer, then traps.
	trapped := newFakeGuest()
	trapped.errs = map[string]error{ExportInit: errors.New("trap")}
	h, host := newTestHandler(trapped)
	trapped.onCall = scheduleOnInit(host)

	require.Error(t, h.CallInit(ctx))
	_ = h.CallShutdown(ctx)
	assert.Equal(t, 0, h.Scheduler().Len())
	trapped.mu.Lock()
	assert.True(t, trapped.closed)
	trapped.mu.Unlock()

	// Guest schedules a timer, then rejects init.
	rejected := newFakeGuest()
	rejected.responses[ExportInit] = []byte(`{"ok":false,"error":"bad config"}`)
	h, host = newTestHandler(rejected)
	rejected.onCall = scheduleOnInit(host)

	require.Error(t, h.CallInit(ctx))
	assert.Equal(t, 1, h.Scheduler().Len())
	_ = h.CallShutdown(ctx)
	assert.Equal(t, 0, h.Scheduler().Len())
}

func TestHandlerShutdownIdempotent(t *testing.T) {
	guest := newFakeGuest()
	h, _ := newTestHandler(guest)
	ctx := context.Background()
	require.NoError(t, h.CallInit(ctx))

	require.NoError(t, h.CallShutdown(ctx))
	require.NoError(t, h.CallShutdown(ctx))
	assert.Len(t, guest.callsTo(ExportShutdown), 1)
}

func TestHandlerInvalidResponseEnvelope(t *testing.T) {
	guest := newFakeGuest()
	guest.responses[ExportHandle] = []byte(`{"A":{},"B":{}}`)
	h, _ := newTestHandler(guest)
	ctx := context.Background()
	require.NoError(t, h.CallInit(ctx))

	req, err := rpc.NewRequest("Ping", nil)
	require.NoError(t, err)
	_, err = h.Handle(ctx, nil, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response envelope")
}

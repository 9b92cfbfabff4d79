package wasmplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hooks"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/observability"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
)

// EventRouter tracks the hook subscriptions of one plugin instance and
// delivers matching cluster events to its plugin_on_hook_event export.
type EventRouter struct {
	pluginName  string
	guest       Guest
	callTimeout time.Duration
	logger      *logrus.Logger
	metrics     *observability.Metrics

	mu       sync.Mutex
	patterns map[string]struct{}
}

// NewEventRouter creates a router with no subscriptions. callTimeout
// bounds each delivery call into the guest.
func NewEventRouter(pluginName string, guest Guest, callTimeout time.Duration, logger *logrus.Logger, metrics *observability.Metrics) *EventRouter {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventRouter{
		pluginName:  pluginName,
		guest:       guest,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     metrics,
		patterns:    make(map[string]struct{}),
	}
}

// Subscribe adds a topic pattern. Subscribing an already-present
// pattern is a no-op.
func (r *EventRouter) Subscribe(pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patterns[pattern]; ok {
		return nil
	}
	if len(r.patterns) >= pluginapi.MaxHookSubscriptionsPerPlugin {
		return fmt.Errorf("plugin '%s' already has %d hook subscriptions", r.pluginName, pluginapi.MaxHookSubscriptionsPerPlugin)
	}
	r.patterns[pattern] = struct{}{}
	return nil
}

// Unsubscribe removes a pattern. Returns false when it was not
// subscribed.
func (r *EventRouter) Unsubscribe(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patterns[pattern]; !ok {
		return false
	}
	delete(r.patterns, pattern)
	return true
}

// UnsubscribeAll clears every subscription.
func (r *EventRouter) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = make(map[string]struct{})
}

// Patterns returns the active subscription patterns.
func (r *EventRouter) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.patterns))
	for p := range r.patterns {
		out = append(out, p)
	}
	return out
}

// Matches reports whether any subscription matches the topic.
func (r *EventRouter) Matches(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pattern := range r.patterns {
		if hooks.MatchTopic(pattern, topic) {
			return true
		}
	}
	return false
}

// Deliver sends an event to the guest when a subscription matches its
// topic. Returns true when the event was delivered.
func (r *EventRouter) Deliver(ctx context.Context, event *hooks.Event) bool {
	topic := event.Type.Topic()
	if !r.Matches(topic) {
		return false
	}

	payload, err := json.Marshal(map[string]any{"topic": topic, "event": event})
	if err != nil {
		r.logger.WithFields(logrus.Fields{"plugin": r.pluginName, "topic": topic, "error": err}).
			Warn("hook event encode failed")
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	status := "ok"
	if _, err := r.guest.Call(callCtx, ExportOnHookEvent, payload); err != nil {
		status = "error"
		r.logger.WithFields(logrus.Fields{"plugin": r.pluginName, "topic": topic, "error": err}).
			Warn("hook event delivery failed")
	}
	if r.metrics != nil {
		r.metrics.HookDeliveriesTotal.WithLabelValues(r.pluginName, status).Inc()
	}
	return status == "ok"
}

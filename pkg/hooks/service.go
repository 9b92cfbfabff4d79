package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler processes events whose topic matches its configured pattern.
type Handler interface {
	// Name matches a HandlerConfig entry.
	Name() string
	// Invoke processes one event. The context carries the handler's
	// configured timeout.
	Invoke(ctx context.Context, event *Event) error
}

// HandlerFailure records one handler that returned an error during
// dispatch.
type HandlerFailure struct {
	Handler string `json:"handler"`
	Error   string `json:"error"`
}

// DispatchResult summarizes one event dispatch.
type DispatchResult struct {
	// Disabled is true when the service dropped the event without
	// invoking any handler.
	Disabled bool
	// HandlerCount is how many handlers matched and ran.
	HandlerCount int
	// Failures lists handlers that returned errors.
	Failures []HandlerFailure
}

// Service matches events against configured handlers and dispatches
// them with per-handler timeouts.
type Service struct {
	config  Config
	logger  *logrus.Logger
	metrics *metricsRegistry

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewService creates a hook service for the given configuration.
func NewService(config Config, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		config:   config,
		logger:   logger,
		metrics:  newMetricsRegistry(),
		handlers: make(map[string]Handler),
	}
}

// IsEnabled reports whether dispatch is turned on.
func (s *Service) IsEnabled() bool {
	return s.config.Enabled
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.config
}

// Metrics returns a snapshot of dispatch counters.
func (s *Service) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Register attaches a handler implementation. The handler only runs if
// a HandlerConfig with the same name exists and is enabled.
func (s *Service) Register(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[h.Name()]; exists {
		return fmt.Errorf("handler '%s' already registered", h.Name())
	}
	s.handlers[h.Name()] = h
	return nil
}

// Unregister detaches a handler by name.
func (s *Service) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, name)
}

// Dispatch fans an event out to every enabled handler whose pattern
// matches the event topic. Handler errors are collected, not
// propagated; a broken handler never blocks the others.
func (s *Service) Dispatch(ctx context.Context, event *Event) DispatchResult {
	if !s.config.Enabled {
		return DispatchResult{Disabled: true}
	}

	topic := event.Topic()
	result := DispatchResult{}

	s.mu.RLock()
	handlers := make(map[string]Handler, len(s.handlers))
	for name, h := range s.handlers {
		handlers[name] = h
	}
	s.mu.RUnlock()

	for _, cfg := range s.config.Handlers {
		if !cfg.Enabled || !MatchTopic(cfg.Pattern, topic) {
			continue
		}
		h, ok := handlers[cfg.Name]
		if !ok {
			s.metrics.recordDropped(cfg.Name)
			s.logger.WithFields(logrus.Fields{
				"handler": cfg.Name,
				"topic":   topic,
			}).Warn("No implementation registered for configured hook handler")
			continue
		}

		result.HandlerCount++
		if err := s.invoke(ctx, cfg, h, event); err != nil {
			result.Failures = append(result.Failures, HandlerFailure{
				Handler: cfg.Name,
				Error:   err.Error(),
			})
		}
	}
	return result
}

func (s *Service) invoke(ctx context.Context, cfg HandlerConfig, h Handler, event *Event) error {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if cfg.TimeoutMS == 0 {
		timeout = DefaultTimeoutMS * time.Millisecond
	}

	var err error
	for attempt := uint32(0); attempt <= cfg.RetryCount; attempt++ {
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = h.Invoke(callCtx, event)
		cancel()
		latencyUS := uint64(time.Since(start).Microseconds())

		if err == nil {
			s.metrics.recordSuccess(cfg.Name, latencyUS)
			return nil
		}
		s.metrics.recordFailure(cfg.Name, latencyUS)
		s.logger.WithFields(logrus.Fields{
			"handler": cfg.Name,
			"event":   event.ID,
			"attempt": attempt + 1,
			"error":   err,
		}).Warn("Hook handler failed")
	}
	return fmt.Errorf("handler '%s' failed after %d attempts: %w", cfg.Name, cfg.RetryCount+1, err)
}

package wasmplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/observability"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
)

type timerEntry struct {
	cancel context.CancelFunc
	cronID cron.EntryID
	isCron bool
}

// Scheduler owns the timers of one plugin instance. Interval timers run
// on their own goroutines; cron timers share one cron runner. Each fire
// calls the guest's plugin_on_timer export with the timer name as a
// JSON string.
type Scheduler struct {
	pluginName  string
	guest       Guest
	callTimeout time.Duration
	logger      *logrus.Logger
	metrics     *observability.Metrics

	mu     sync.Mutex
	timers map[string]*timerEntry
	cron   *cron.Cron
	closed bool
}

// NewScheduler creates an empty scheduler for one plugin. callTimeout
// bounds each plugin_on_timer invocation.
func NewScheduler(pluginName string, guest Guest, callTimeout time.Duration, logger *logrus.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		pluginName:  pluginName,
		guest:       guest,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     metrics,
		timers:      make(map[string]*timerEntry),
	}
}

// Schedule registers a timer. Scheduling a name that already exists
// replaces the old timer. Intervals are clamped to the host bounds.
func (s *Scheduler) Schedule(config pluginapi.TimerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("scheduler for plugin '%s' is closed", s.pluginName)
	}
	if existing, ok := s.timers[config.Name]; ok {
		s.removeLocked(config.Name, existing)
	} else if len(s.timers) >= pluginapi.MaxTimersPerPlugin {
		return fmt.Errorf("plugin '%s' already has %d timers", s.pluginName, pluginapi.MaxTimersPerPlugin)
	}

	if config.Cron != "" {
		if s.cron == nil {
			s.cron = cron.New()
			s.cron.Start()
		}
		name := config.Name
		id, err := s.cron.AddFunc(config.Cron, func() { s.fire(name) })
		if err != nil {
			return fmt.Errorf("invalid cron expression '%s': %w", config.Cron, err)
		}
		s.timers[name] = &timerEntry{cronID: id, isCron: true}
		s.logger.WithFields(logrus.Fields{"plugin": s.pluginName, "timer": name, "cron": config.Cron}).
			Debug("scheduled cron timer")
		return nil
	}

	interval := time.Duration(config.ClampInterval()) * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	entry := &timerEntry{cancel: cancel}
	s.timers[config.Name] = entry
	go s.runInterval(ctx, config.Name, entry, interval, config.Repeating)
	s.logger.WithFields(logrus.Fields{"plugin": s.pluginName, "timer": config.Name, "interval": interval, "repeating": config.Repeating}).
		Debug("scheduled interval timer")
	return nil
}

func (s *Scheduler) runInterval(ctx context.Context, name string, entry *timerEntry, interval time.Duration, repeating bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(name)
			if !repeating {
				s.mu.Lock()
				if current, ok := s.timers[name]; ok && current == entry {
					delete(s.timers, name)
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

func (s *Scheduler) fire(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	payload, _ := json.Marshal(name)
	status := "ok"
	if _, err := s.guest.Call(ctx, ExportOnTimer, payload); err != nil {
		status = "error"
		s.logger.WithFields(logrus.Fields{"plugin": s.pluginName, "timer": name, "error": err}).
			Warn("timer callback failed")
	}
	if s.metrics != nil {
		s.metrics.TimerFiresTotal.WithLabelValues(s.pluginName, status).Inc()
	}
}

// Cancel removes a timer by name. Returns false when no such timer
// exists.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[name]
	if !ok {
		return false
	}
	s.removeLocked(name, entry)
	return true
}

func (s *Scheduler) removeLocked(name string, entry *timerEntry) {
	if entry.isCron {
		s.cron.Remove(entry.cronID)
	} else {
		entry.cancel()
	}
	delete(s.timers, name)
}

// Len returns the number of active timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels every timer and refuses further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, entry := range s.timers {
		s.removeLocked(name, entry)
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.closed = true
}

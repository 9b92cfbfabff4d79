package wasmplugin

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/pluginapi"
)

func newTestScheduler(guest Guest) *Scheduler {
	return NewScheduler("test", guest, time.Second, quietLogger(), nil)
}

func TestSchedulerLimit(t *testing.T) {
	s := newTestScheduler(newFakeGuest())
	defer s.Close()

	for i := 0; i < pluginapi.MaxTimersPerPlugin; i++ {
		err := s.Schedule(pluginapi.TimerConfig{Name: fmt.Sprintf("t%d", i), IntervalMS: 60_000, Repeating: true})
		require.NoError(t, err)
	}
	assert.Equal(t, pluginapi.MaxTimersPerPlugin, s.Len())

	err := s.Schedule(pluginapi.TimerConfig{Name: "overflow", IntervalMS: 60_000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has")
}

func TestSchedulerReplaceSameName(t *testing.T) {
	s := newTestScheduler(newFakeGuest())
	defer s.Close()

	require.NoError(t, s.Schedule(pluginapi.TimerConfig{Name: "tick", IntervalMS: 60_000, Repeating: true}))
	require.NoError(t, s.Schedule(pluginapi.TimerConfig{Name: "tick", IntervalMS: 30_000, Repeating: true}))
	assert.Equal(t, 1, s.Len())
}

func TestSchedulerCancel(t *testing.T) {
	s := newTestScheduler(newFakeGuest())
	defer s.Close()

	require.NoError(t, s.Schedule(pluginapi.TimerConfig{Name: "tick", IntervalMS: 60_000, Repeating: true}))
	assert.True(t, s.Cancel("tick"))
	assert.False(t, s.Cancel("tick"))
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerCronValidation(t *testing.T) {
	s := newTestScheduler(newFakeGuest())
	defer s.Close()

	err := s.Schedule(pluginapi.TimerConfig{Name: "bad", Cron: "not a cron"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Schedule(pluginapi.TimerConfig{Name: "nightly", Cron: "0 3 * * *"}))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Cancel("nightly"))
}

func TestSchedulerClosedRejectsSchedule(t *testing.T) {
	s := newTestScheduler(newFakeGuest())
	s.Close()

	err := s.Schedule(pluginapi.TimerConfig{Name: "late", IntervalMS: 60_000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestSchedulerFireCallsGuest(t *testing.T) {
	guest := newFakeGuest()
	s := newTestScheduler(guest)
	defer s.Close()

	s.fire("tick")

	calls := guest.callsTo(ExportOnTimer)
	require.Len(t, calls, 1)
	var name string
	require.NoError(t, json.Unmarshal(calls[0].Payload, &name))
	assert.Equal(t, "tick", name)
}

func TestSchedulerIntervalFires(t *testing.T) {
	guest := newFakeGuest()
	s := newTestScheduler(guest)
	defer s.Close()

	// One-shot timer at the minimum interval removes itself after firing.
	require.NoError(t, s.Schedule(pluginapi.TimerConfig{Name: "once", IntervalMS: pluginapi.MinTimerIntervalMS}))

	deadline := time.After(5 * time.Second)
	for len(guest.callsTo(ExportOnTimer)) == 0 {
		select {
		case <-deadline:
			t.Fatal("timer never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 20*time.Millisecond)
}

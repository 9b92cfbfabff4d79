package hooks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of cluster event.
type EventType string

const (
	WriteCommitted    EventType = "write_committed"
	DeleteCommitted   EventType = "delete_committed"
	MembershipChanged EventType = "membership_changed"
	LeaderElected     EventType = "leader_elected"
	SnapshotCreated   EventType = "snapshot_created"
)

// ParseEventType converts a wire string into an EventType.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case WriteCommitted, DeleteCommitted, MembershipChanged, LeaderElected, SnapshotCreated:
		return EventType(s), nil
	default:
		return "", fmt.Errorf("unknown event type: %s", s)
	}
}

// Category returns the topic segment grouping this event type.
func (t EventType) Category() string {
	switch t {
	case WriteCommitted, DeleteCommitted:
		return "kv"
	default:
		return "cluster"
	}
}

// Topic returns the dot-delimited topic events of this type publish on,
// e.g. hooks.kv.write_committed.
func (t EventType) Topic() string {
	return "hooks." + t.Category() + "." + string(t)
}

// Event is one cluster event flowing through the hook system.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`
	// Type is the event kind.
	Type EventType `json:"event_type"`
	// NodeID is the node that observed the event.
	NodeID uint64 `json:"node_id"`
	// TimestampMS is the event time in Unix milliseconds.
	TimestampMS uint64 `json:"timestamp_ms"`
	// Payload carries type-specific data (keys, node sets, terms).
	Payload json.RawMessage `json:"payload"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(eventType EventType, nodeID uint64, payload json.RawMessage) *Event {
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		NodeID:      nodeID,
		TimestampMS: uint64(time.Now().UnixMilli()),
		Payload:     payload,
	}
}

// Topic returns the topic this event publishes on.
func (e *Event) Topic() string {
	return e.Type.Topic()
}

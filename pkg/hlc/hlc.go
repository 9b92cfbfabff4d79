// Package hlc implements a hybrid logical clock: wall-clock milliseconds
// paired with a logical counter so timestamps are totally ordered and
// monotonically non-decreasing even when the wall clock stalls or steps
// backwards.
package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a single hybrid logical clock reading.
type Timestamp struct {
	// WallMS is wall-clock milliseconds since the Unix epoch.
	WallMS uint64 `json:"wall_ms"`
	// Logical breaks ties between readings within the same millisecond.
	Logical uint32 `json:"logical"`
	// Node identifies the clock that produced the reading.
	Node string `json:"node"`
}

// Compare orders timestamps by (wall, logical, node). Returns -1, 0, or 1.
func (t Timestamp) Compare(other Timestamp) int {
	if t.WallMS != other.WallMS {
		if t.WallMS < other.WallMS {
			return -1
		}
		return 1
	}
	if t.Logical != other.Logical {
		if t.Logical < other.Logical {
			return -1
		}
		return 1
	}
	if t.Node != other.Node {
		if t.Node < other.Node {
			return -1
		}
		return 1
	}
	return 0
}

// UnixMilli returns the wall-clock component.
func (t Timestamp) UnixMilli() uint64 { return t.WallMS }

// String formats the timestamp for logs.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.WallMS, t.Logical, t.Node)
}

// Clock issues hybrid logical timestamps for one node.
// Safe for concurrent use.
type Clock struct {
	node string

	mu      sync.Mutex
	wallMS  uint64
	logical uint32

	// now is swappable for tests.
	now func() uint64
}

// NewClock creates a clock identified by node.
func NewClock(node string) *Clock {
	return &Clock{
		node: node,
		now:  func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// Now returns the next timestamp. If the wall clock has not advanced past
// the last reading, the logical counter increments instead.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now()
	if wall > c.wallMS {
		c.wallMS = wall
		c.logical = 0
	} else {
		c.logical++
	}
	return Timestamp{WallMS: c.wallMS, Logical: c.logical, Node: c.node}
}

// Update merges a remote timestamp into the clock, keeping local time
// ahead of everything observed. Returns the resulting local timestamp.
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now()
	switch {
	case wall > c.wallMS && wall > remote.WallMS:
		c.wallMS = wall
		c.logical = 0
	case remote.WallMS > c.wallMS:
		c.wallMS = remote.WallMS
		c.logical = remote.Logical + 1
	case remote.WallMS == c.wallMS:
		if remote.Logical >= c.logical {
			c.logical = remote.Logical + 1
		} else {
			c.logical++
		}
	default:
		c.logical++
	}
	return Timestamp{WallMS: c.wallMS, Logical: c.logical, Node: c.node}
}

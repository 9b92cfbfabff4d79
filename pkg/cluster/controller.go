// Package cluster exposes the small slice of cluster state the plugin
// runtime needs: who the current leader is.
package cluster

import (
	"context"
	"sync"
)

// Controller answers leader queries for the local cluster.
type Controller interface {
	// Leader returns the current leader's node ID. The bool is false when
	// no leader is known (e.g. mid-election).
	Leader(ctx context.Context) (uint64, bool, error)
}

// Static is a Controller with a settable leader, for tests and
// single-node standalone operation.
type Static struct {
	mu     sync.RWMutex
	leader uint64
	known  bool
}

// NewStatic creates a controller that reports leader as the known leader.
func NewStatic(leader uint64) *Static {
	return &Static{leader: leader, known: true}
}

// Leader implements Controller.
func (s *Static) Leader(context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader, s.known, nil
}

// SetLeader changes the reported leader.
func (s *Static) SetLeader(leader uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = leader
	s.known = true
}

// ClearLeader makes the controller report no known leader.
func (s *Static) ClearLeader() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = false
}

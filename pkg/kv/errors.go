package kv

import "fmt"

// NotFoundError reports a read of an absent key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

// NotLeaderError reports that the node cannot serve a write because it is
// not the cluster leader. Leader is the current leader's node ID when
// known; HasLeader is false during elections.
type NotLeaderError struct {
	Leader    uint64
	HasLeader bool
}

func (e *NotLeaderError) Error() string {
	if e.HasLeader {
		return fmt.Sprintf("not leader; leader is node %d", e.Leader)
	}
	return "not leader; no leader known"
}

// CasFailedError reports a failed CompareAndSwap or CompareAndDelete.
// Actual is the value observed at the time of the attempt, nil when the
// key was absent.
type CasFailedError struct {
	Key    string
	Actual []byte
}

func (e *CasFailedError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("compare-and-swap failed for %s: key absent", e.Key)
	}
	return fmt.Sprintf("compare-and-swap failed for %s: value mismatch", e.Key)
}

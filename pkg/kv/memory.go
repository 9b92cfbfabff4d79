package kv

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store with full revision tracking.
// Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	revision uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

// Read implements Store.
func (s *MemoryStore) Read(_ context.Context, req ReadRequest) (ReadResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[req.Key]
	if !ok {
		return ReadResult{}, nil
	}
	cp := *entry
	cp.Value = append([]byte(nil), entry.Value...)
	return ReadResult{KV: &cp}, nil
}

// Write implements Store.
func (s *MemoryStore) Write(_ context.Context, cmd WriteCommand) (WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c := cmd.(type) {
	case Set:
		s.set(c.Key, c.Value)
		return WriteResult{}, nil

	case Delete:
		delete(s.entries, c.Key)
		return WriteResult{}, nil

	case CompareAndSwap:
		if err := s.checkExpected(c.Key, c.Expected); err != nil {
			return WriteResult{}, err
		}
		s.set(c.Key, c.NewValue)
		return WriteResult{}, nil

	case CompareAndDelete:
		if err := s.checkExpected(c.Key, c.Expected); err != nil {
			return WriteResult{}, err
		}
		delete(s.entries, c.Key)
		return WriteResult{}, nil

	case Batch:
		s.applyOps(c.Operations)
		applied := len(c.Operations)
		return WriteResult{BatchApplied: &applied}, nil

	case ConditionalBatch:
		met := true
		for i, cond := range c.Conditions {
			if !s.conditionHolds(cond) {
				met = false
				idx := i
				return WriteResult{ConditionsMet: &met, FailedConditionIndex: &idx}, nil
			}
		}
		s.applyOps(c.Operations)
		applied := len(c.Operations)
		return WriteResult{ConditionsMet: &met, BatchApplied: &applied}, nil

	default:
		return WriteResult{}, &unknownCommandError{}
	}
}

// Scan implements Store. Entries are returned in lexicographic key order;
// the continuation token is the last key of the previous page.
func (s *MemoryStore) Scan(_ context.Context, req ScanRequest) (ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.entries {
		if strings.HasPrefix(k, req.Prefix) {
			if req.ContinuationToken != "" && k <= req.ContinuationToken {
				continue
			}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := int(BoundScanLimit(req.Limit))
	truncated := len(keys) > limit
	if truncated {
		keys = keys[:limit]
	}

	result := ScanResult{
		Entries:     make([]Entry, 0, len(keys)),
		IsTruncated: truncated,
	}
	for _, k := range keys {
		entry := s.entries[k]
		cp := *entry
		cp.Value = append([]byte(nil), entry.Value...)
		result.Entries = append(result.Entries, cp)
	}
	result.Count = len(result.Entries)
	if truncated && len(keys) > 0 {
		result.ContinuationToken = keys[len(keys)-1]
	}
	return result, nil
}

// set writes under the lock, advancing the store revision.
func (s *MemoryStore) set(key string, value []byte) {
	s.revision++
	if existing, ok := s.entries[key]; ok {
		existing.Value = append([]byte(nil), value...)
		existing.Version++
		existing.ModRevision = s.revision
		return
	}
	s.entries[key] = &Entry{
		Key:            key,
		Value:          append([]byte(nil), value...),
		Version:        1,
		CreateRevision: s.revision,
		ModRevision:    s.revision,
	}
}

// checkExpected validates a CAS/CAD precondition under the lock.
func (s *MemoryStore) checkExpected(key string, expected []byte) error {
	current, ok := s.entries[key]
	if expected == nil {
		// Create-if-absent: key must not exist.
		if ok {
			return &CasFailedError{Key: key, Actual: append([]byte(nil), current.Value...)}
		}
		return nil
	}
	if !ok {
		return &CasFailedError{Key: key}
	}
	if !bytes.Equal(current.Value, expected) {
		return &CasFailedError{Key: key, Actual: append([]byte(nil), current.Value...)}
	}
	return nil
}

func (s *MemoryStore) conditionHolds(cond Condition) bool {
	switch c := cond.(type) {
	case ValueEquals:
		entry, ok := s.entries[c.Key]
		return ok && bytes.Equal(entry.Value, c.Expected)
	case KeyExists:
		_, ok := s.entries[c.Key]
		return ok
	case KeyNotExists:
		_, ok := s.entries[c.Key]
		return !ok
	default:
		return false
	}
}

func (s *MemoryStore) applyOps(ops []BatchOp) {
	for _, op := range ops {
		switch o := op.(type) {
		case BatchSet:
			s.set(o.Key, o.Value)
		case BatchDelete:
			delete(s.entries, o.Key)
		}
	}
}

type unknownCommandError struct{}

func (*unknownCommandError) Error() string { return "unknown write command" }

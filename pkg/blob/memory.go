package blob

import (
	"context"
	"sync"
)

// MemoryStore is an in-process blob store. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Ref][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[Ref][]byte)}
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, ref Ref) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[ref]
	return ok, nil
}

// GetBytes implements Store.
func (s *MemoryStore) GetBytes(_ context.Context, ref Ref) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// AddBytes implements Store.
func (s *MemoryStore) AddBytes(_ context.Context, data []byte) (Ref, error) {
	ref := RefOf(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = append([]byte(nil), data...)
	}
	return ref, nil
}

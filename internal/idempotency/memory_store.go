package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-node setups.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]Entry
	reserved map[string]time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		reserved: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryStore) Lookup(_ context.Context, keyHash string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[keyHash]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.ExpiresAt) {
		delete(s.entries, keyHash)
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) Reserve(_ context.Context, keyHash string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.reserved[keyHash]; ok && now.Before(until) {
		return false, nil
	}
	s.reserved[keyHash] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Save(_ context.Context, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ExpiresAt = entry.CreatedAt.Add(ttl)
	s.entries[entry.KeyHash] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, keyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, keyHash)
	return nil
}

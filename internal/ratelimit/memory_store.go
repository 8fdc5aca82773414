package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	member string
	at     time.Time
}

// MemoryStore is a mutex-guarded Store for single-process deployments and
// tests. Entries for a key are kept in insertion order, which is also
// timestamp order.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string][]entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string][]entry)}
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, key, member string, now time.Time, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := prune(s.keys[key], now, window)
	entries = append(entries, entry{member: member, at: now})
	s.keys[key] = entries

	return int64(len(entries)), now.Sub(entries[0].at), nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.keys[key]
	for i, e := range entries {
		if e.member == member {
			s.keys[key] = append(entries[:i:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := prune(s.keys[key], now, window)
	s.keys[key] = entries
	return int64(len(entries)), nil
}

func prune(entries []entry, now time.Time, window time.Duration) []entry {
	cutoff := now.Add(-window)
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	return entries[i:]
}

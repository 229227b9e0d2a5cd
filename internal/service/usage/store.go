package usage

import (
	"context"
	"sync"
	"time"
)

// Store persists counters. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the counter value, zero when the key is absent or expired.
	Get(ctx context.Context, key string) (int, error)
	// Incr adds one to the counter and returns the new value. A zero expiresAt keeps
	// the counter forever.
	Incr(ctx context.Context, key string, expiresAt time.Time) (int, error)
}

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryStore keeps counters in process memory. Counters are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: make(map[string]memoryEntry)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return 0, nil
	}
	return entry.count, nil
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, expiresAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, _ := s.live(key)
	entry.count++
	entry.expiresAt = expiresAt
	s.entries[key] = entry
	return entry.count, nil
}

// Purge drops expired counters and returns how many were removed.
func (s *MemoryStore) Purge(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

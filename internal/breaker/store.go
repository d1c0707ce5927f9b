package breaker

import (
	"context"
	"sort"
	"sync"
)

// Store owns circuit records and serializes mutation per provider. Distinct
// providers never block each other.
type Store interface {
	// Update applies fn to the provider's record under the store's
	// per-provider serialization and returns the resulting record.
	Update(ctx context.Context, name string, fn func(*Record)) (Record, error)

	// View returns a copy of the provider's current record.
	View(ctx context.Context, name string) (Record, error)

	// Names lists every provider the store has a record for.
	Names(ctx context.Context) ([]string, error)
}

// MemoryStore keeps records in process memory. It is the default store for
// single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

type memoryRecord struct {
	mu  sync.Mutex
	rec Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) entry(name string) *memoryRecord {
	s.mu.RLock()
	e, ok := s.records[name]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.records[name]; ok {
		return e
	}
	e = &memoryRecord{rec: NewRecord()}
	s.records[name] = e
	return e
}

// Update applies fn under the provider's lock.
func (s *MemoryStore) Update(_ context.Context, name string, fn func(*Record)) (Record, error) {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.rec)
	return e.rec, nil
}

// View returns a copy of the provider's record.
func (s *MemoryStore) View(_ context.Context, name string) (Record, error) {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// Names lists known providers in sorted order.
func (s *MemoryStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

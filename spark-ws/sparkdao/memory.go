package sparkdao

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-memory map. Used in console mode
// and tests, where spark lifetimes are short enough that durability does not
// matter.
type MemoryStore struct {
	mu     sync.RWMutex
	sparks map[string]Spark
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory spark store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sparks: make(map[string]Spark),
	}
}

// Put stores a spark record, overwriting any existing record.
func (s *MemoryStore) Put(_ context.Context, spark Spark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sparks[spark.ID] = spark
	return nil
}

// Spark retrieves a spark by id.
func (s *MemoryStore) Spark(_ context.Context, id string) (Spark, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spark, ok := s.sparks[id]
	return spark, ok, nil
}

// SetActivity flips the spark's soft on/off switch.
func (s *MemoryStore) SetActivity(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spark, ok := s.sparks[id]
	if !ok {
		return nil
	}
	spark.IsActive = active
	s.sparks[id] = spark
	return nil
}

// DeleteExpired removes every spark whose ExpiresAt has passed.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, spark := range s.sparks {
		if spark.Expired(now) {
			delete(s.sparks, id)
			removed++
		}
	}
	return removed, nil
}

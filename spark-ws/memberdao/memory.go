package memberdao

import (
	"context"
	"sync"
	"time"
)

type key struct {
	sparkID string
	userID  string
}

// MemoryStore implements Store with an in-memory map keyed by
// (sparkID, userID).
type MemoryStore struct {
	mu      sync.RWMutex
	members map[key]Member
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory member store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members: make(map[key]Member),
	}
}

// Put upserts a member record.
func (s *MemoryStore) Put(_ context.Context, member Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members[key{member.SparkID, member.UserID}] = member
	return nil
}

// Member retrieves the record for a (spark, user) pair.
func (s *MemoryStore) Member(_ context.Context, sparkID, userID string) (Member, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[key{sparkID, userID}]
	return member, ok, nil
}

// BySpark returns the currently connected members of a spark.
func (s *MemoryStore) BySpark(_ context.Context, sparkID string) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var connected []Member
	for k, m := range s.members {
		if k.sparkID == sparkID && m.IsConnected {
			connected = append(connected, m)
		}
	}
	return connected, nil
}

// UpdateLocation sets the member's position and refreshes LastSeen.
func (s *MemoryStore) UpdateLocation(_ context.Context, sparkID, userID string, latitude, longitude float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{sparkID, userID}
	member, ok := s.members[k]
	if !ok {
		return nil
	}
	member.Latitude = &latitude
	member.Longitude = &longitude
	member.LastSeen = time.Now()
	s.members[k] = member
	return nil
}

// UpdateStatus sets the member's connected flag and refreshes LastSeen.
func (s *MemoryStore) UpdateStatus(_ context.Context, sparkID, userID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{sparkID, userID}
	member, ok := s.members[k]
	if !ok {
		return nil
	}
	member.IsConnected = connected
	member.LastSeen = time.Now()
	s.members[k] = member
	return nil
}

// DeleteStale removes every member whose LastSeen is older than the cutoff.
func (s *MemoryStore) DeleteStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for k, m := range s.members {
		if m.LastSeen.Before(olderThan) {
			delete(s.members, k)
			removed++
		}
	}
	return removed, nil
}

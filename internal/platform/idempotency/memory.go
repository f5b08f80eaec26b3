package idempotency

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs tests and single instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fp string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	if live, ok := s.records[id]; ok && !live.expired(now) {
		return live.outcome(fp)
	}
	fresh := pendingRecord(key, fp, now, ttl)
	s.records[id] = fresh
	return Reservation{State: ReservationStateNew, Record: fresh}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fp string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	prev, found := s.records[id]
	done, err := prev.completed(found, key, fp, resp, now, ttl)
	if err == nil {
		s.records[id] = done
	}
	return err
}

func (s *MemoryStore) Release(_ context.Context, key, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	if rec, ok := s.records[id]; ok && rec.releasableBy(fp) {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired drops expired records oldest first, at most limit of them when limit is
// positive.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for id, rec := range s.records {
		if rec.expired(now) {
			stale = append(stale, id)
		}
	}
	slices.SortFunc(stale, func(a, b string) int {
		return s.records[a].ExpiresAt.Compare(s.records[b].ExpiresAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, id := range stale {
		delete(s.records, id)
	}
	return len(stale), nil
}

package sink

import (
	"context"
	"sync"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/packet"
)

// DefaultMemoryCapacity bounds the in-memory store.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps the most recent records in a bounded ring. It backs the
// local query surface so queries and summaries work without a time-series
// database configured.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*packet.Record
	next     int
	full     bool
	capacity int
}

// NewMemoryStore creates a ring holding at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		records:  make([]*packet.Record, capacity),
		capacity: capacity,
	}
}

func (s *MemoryStore) Write(_ context.Context, rec *packet.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.next] = rec
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Len reports how many records the store currently holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return s.capacity
	}
	return s.next
}

func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]*packet.Record, error) {
	filter = filter.normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*packet.Record, 0, filter.Limit)
	for _, rec := range s.newestFirst() {
		if !filter.matches(rec) {
			continue
		}
		out = append(out, rec)
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Summarize(_ context.Context, window time.Duration) (*Summary, error) {
	cutoff := time.Now().Add(-window)

	s.mu.RLock()
	var inWindow []*packet.Record
	for _, rec := range s.newestFirst() {
		if rec.CapturedAt.Before(cutoff) {
			continue
		}
		inWindow = append(inWindow, rec)
	}
	s.mu.RUnlock()

	return summarizeRecords(inWindow, window), nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// newestFirst walks the ring from the most recent insertion backwards.
// Callers must hold at least the read lock.
func (s *MemoryStore) newestFirst() []*packet.Record {
	count := s.next
	if s.full {
		count = s.capacity
	}
	out := make([]*packet.Record, 0, count)
	for i := 1; i <= count; i++ {
		idx := (s.next - i + s.capacity) % s.capacity
		out = append(out, s.records[idx])
	}
	return out
}

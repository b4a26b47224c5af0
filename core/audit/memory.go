package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps audit events in memory. Useful for tests and development.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	var matched []Event
	for i := range s.events {
		if filter.Matches(&s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for i := range s.events {
		if filter.Matches(&s.events[i]) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var purged int64
	for _, e := range s.events {
		if e.CreatedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return purged, nil
}

var _ Store = (*MemoryStore)(nil)

package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/nurbekov/fraudscore/internal/pagination"
)

// DefaultPageSize bounds audit listings when the caller gives no limit.
const DefaultPageSize = 50

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[int64][]*Event // customerID → events, oldest first
}

// NewMemoryStore creates an in-memory scoring event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[int64][]*Event),
	}
}

func (s *MemoryStore) Record(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *event
	e.Alerts = append([]string(nil), event.Alerts...)
	s.events[event.CustomerID] = append(s.events[event.CustomerID], &e)
	return nil
}

// ListByCustomer returns events most recent first. The cursor is the opaque
// position returned by a previous page; an empty next cursor means the end.
func (s *MemoryStore) ListByCustomer(ctx context.Context, customerID int64, limit int, cursor string) ([]*Event, string, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.RLock()
	all := s.events[customerID]
	// Fetch limit+1 so ComputePage can tell whether another page exists.
	page := make([]*Event, 0, limit+1)
	for i := len(all) - 1; i >= 0 && len(page) < limit+1; i-- {
		e := all[i]
		if cur != nil && !e.ScoredAt.Before(cur.CreatedAt) {
			continue // at or before the cursor position, already served
		}
		copied := *e
		copied.Alerts = append([]string(nil), e.Alerts...)
		page = append(page, &copied)
	}
	s.mu.RUnlock()

	items, next, _ := pagination.ComputePage(page, limit, func(e *Event) (time.Time, string) {
		return e.ScoredAt, e.ID
	})
	return items, next, nil
}

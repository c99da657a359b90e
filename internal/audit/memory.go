package audit

import (
	"context"
	"sync"
)

// InMemory is a Store for tests and local development. Events are held in
// append order; Query walks them backwards so results come out newest first.
type InMemory struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemory creates an empty in-memory trail.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Append(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *InMemory) Query(ctx context.Context, q Query) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	out := make([]Event, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := m.events[i]
		if q.ActorID != "" && ev.ActorID != q.ActorID {
			continue
		}
		if q.Entity != "" && ev.Entity != q.Entity {
			continue
		}
		if q.EntityID != "" && ev.EntityID != q.EntityID {
			continue
		}
		if q.Action != "" && ev.Action != q.Action {
			continue
		}
		if !q.From.IsZero() && ev.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && ev.CreatedAt.After(q.To) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Len reports the number of stored events.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

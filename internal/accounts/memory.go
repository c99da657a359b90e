package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
)

type entry struct {
	mu  sync.Mutex
	acc Account
}

// InMemory implements Store for tests and local development. Each record has
// its own lock so Transition serializes read-check-write per account without
// stalling unrelated records. Lock order is map, then entry, then the email
// index; no path holds the map lock while taking an entry lock.
type InMemory struct {
	mu   sync.RWMutex
	byID map[string]*entry

	idx     sync.Mutex
	byEmail map[string]string
}

// NewInMemory creates an empty account store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]*entry),
		byEmail: make(map[string]string),
	}
}

func (m *InMemory) Insert(ctx context.Context, acc Account) error {
	email := strings.ToLower(acc.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx.Lock()
	defer m.idx.Unlock()

	if _, taken := m.byEmail[email]; taken {
		return ErrEmailTaken
	}
	m.byID[acc.ID] = &entry{acc: acc}
	m.byEmail[email] = acc.ID
	return nil
}

func (m *InMemory) Get(ctx context.Context, id string, cs scope.ConstraintSet) (Account, error) {
	e := m.entry(id)
	if e == nil {
		return Account{}, ErrNotFound
	}
	e.mu.Lock()
	acc := e.acc
	e.mu.Unlock()
	if !cs.Matches(acc.Field) {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (m *InMemory) GetByEmail(ctx context.Context, email string) (Account, error) {
	m.idx.Lock()
	id, ok := m.byEmail[strings.ToLower(email)]
	m.idx.Unlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	e := m.entry(id)
	if e == nil {
		return Account{}, ErrNotFound
	}
	e.mu.Lock()
	acc := e.acc
	e.mu.Unlock()
	return acc, nil
}

func (m *InMemory) List(ctx context.Context, cs scope.ConstraintSet, p Page) ([]Account, error) {
	matched := m.matching(cs)
	p = p.Normalize()
	if p.Offset >= len(matched) {
		return []Account{}, nil
	}
	end := p.Offset + p.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[p.Offset:end], nil
}

func (m *InMemory) Count(ctx context.Context, cs scope.ConstraintSet) (int, error) {
	return len(m.matching(cs)), nil
}

func (m *InMemory) Transition(ctx context.Context, id string, cs scope.ConstraintSet, mutate func(*Account) error) (Account, error) {
	e := m.entry(id)
	if e == nil {
		return Account{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-check visibility under the lock; the record may have transitioned
	// out of scope since the caller looked it up.
	if !cs.Matches(e.acc.Field) {
		return Account{}, ErrNotFound
	}
	acc := e.acc
	if err := mutate(&acc); err != nil {
		return Account{}, err
	}
	if !strings.EqualFold(acc.Email, e.acc.Email) {
		m.idx.Lock()
		newEmail := strings.ToLower(acc.Email)
		if owner, taken := m.byEmail[newEmail]; taken && owner != id {
			m.idx.Unlock()
			return Account{}, ErrEmailTaken
		}
		delete(m.byEmail, strings.ToLower(e.acc.Email))
		m.byEmail[newEmail] = id
		m.idx.Unlock()
	}
	e.acc = acc
	return acc, nil
}

func (m *InMemory) entry(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id]
}

func (m *InMemory) matching(cs scope.ConstraintSet) []Account {
	if cs.MatchesNothing() {
		return nil
	}
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []Account
	for _, e := range entries {
		e.mu.Lock()
		acc := e.acc
		e.mu.Unlock()
		if cs.Matches(acc.Field) {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/ids"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/obs"
)

// Action is the closed set of auditable verbs.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
	ActionAccess Action = "ACCESS"
)

// Valid reports whether the action is one of the defined verbs.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionLogin, ActionLogout, ActionAccess:
		return true
	}
	return false
}

// ErrImmutable is returned for any attempt to change or remove a recorded
// event. The trail is append-only.
var ErrImmutable = fmt.Errorf("audit: events are immutable: %w", authz.ErrValidation)

// FieldChange is one before/after pair in an event diff.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Event is one recorded fact about who did what to which entity.
type Event struct {
	ID        string                 `json:"id"`
	Action    Action                 `json:"action"`
	ActorID   string                 `json:"actorId"`
	ActorRole string                 `json:"actorRole"`
	Entity    string                 `json:"entity"`
	EntityID  string                 `json:"entityId,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
	Changes   map[string]FieldChange `json:"changes,omitempty"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Query filters the trail. Zero fields are ignored; results come back newest
// first.
type Query struct {
	ActorID  string
	Entity   string
	EntityID string
	Action   Action
	From     time.Time
	To       time.Time
	Limit    int
}

// MaxQueryLimit caps a single trail read. Larger requests are clamped, not
// rejected.
const MaxQueryLimit = 500

// DefaultQueryLimit applies when the caller does not ask for a page size.
const DefaultQueryLimit = 100

// Store persists events. Append is the only write.
type Store interface {
	Append(ctx context.Context, ev Event) error
	Query(ctx context.Context, q Query) ([]Event, error)
}

// Recorder validates and persists audit events. Record is fire-and-forget:
// business operations never fail or stall because the trail is slow, and an
// event that cannot be persisted is counted as dropped and logged instead of
// lost silently.
type Recorder struct {
	store  Store
	queue  chan Event
	done   chan struct{}
	notify func(Event)

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts the background append worker.
func NewRecorder(store Store) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	r := &Recorder{
		store: store,
		queue: make(chan Event, 256),
		done:  make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// OnRecord registers a callback invoked after each successful append. Used to
// fan events out to live subscribers. Must be set before the recorder is
// shared.
func (r *Recorder) OnRecord(fn func(Event)) {
	r.notify = fn
}

// Record validates the event, stamps identity and time, and hands it to the
// background worker. A full queue drops the event immediately; the caller is
// never blocked by the trail.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if err := validate(ev); err != nil {
		return err
	}
	ev.ID = ids.New()
	ev.CreatedAt = time.Now().UTC()

	// Records racing shutdown are dropped, never sent on the closed queue.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.drop(ev, errors.New("recorder closed"))
		return nil
	}
	select {
	case r.queue <- ev:
	default:
		r.drop(ev, errors.New("queue full"))
	}
	return nil
}

// Query reads the trail, newest first, with the limit clamped.
func (r *Recorder) Query(ctx context.Context, q Query) ([]Event, error) {
	if q.Action != "" && !q.Action.Valid() {
		return nil, fmt.Errorf("audit: unknown action %q: %w", q.Action, authz.ErrValidation)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	events, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, authz.Storage(err)
	}
	return events, nil
}

// Deactivate always fails: recorded events cannot be hidden.
func (r *Recorder) Deactivate(ctx context.Context, id string) error {
	return ErrImmutable
}

// Delete always fails: recorded events cannot be removed.
func (r *Recorder) Delete(ctx context.Context, id string) error {
	return ErrImmutable
}

// Close drains the queue and stops the worker. Call on shutdown so buffered
// events reach the store. Safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.Append(ctx, ev)
		cancel()
		if err != nil {
			r.drop(ev, err)
			continue
		}
		if r.notify != nil {
			r.notify(ev)
		}
	}
}

func (r *Recorder) drop(ev Event, err error) {
	obs.AuditEventDropped()
	obs.LogEvent(map[string]any{
		"type":   "audit",
		"event":  "audit.event_dropped",
		"action": string(ev.Action),
		"actor":  ev.ActorID,
		"entity": ev.Entity,
		"error":  err.Error(),
	})
}

func validate(ev Event) error {
	if !ev.Action.Valid() {
		return fmt.Errorf("audit: unknown action %q: %w", ev.Action, authz.ErrValidation)
	}
	if strings.TrimSpace(ev.ActorID) == "" {
		return fmt.Errorf("audit: actor is required: %w", authz.ErrValidation)
	}
	if strings.TrimSpace(ev.Entity) == "" {
		return fmt.Errorf("audit: entity is required: %w", authz.ErrValidation)
	}
	return nil
}

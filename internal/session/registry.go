package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshotter persists committed session states.
type Snapshotter interface {
	SaveSession(s Session) error
}

type entry struct {
	mu      sync.Mutex
	s       Session
	deleted bool
}

// Registry is the in-memory source of truth for sessions. Each record is
// guarded by its own mutex so transitions on one session never block another.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	snap    Snapshotter
	now     func() time.Time
	logger  *slog.Logger
}

// NewRegistry creates a Registry. snap may be nil to keep sessions in memory only.
func NewRegistry(snap Snapshotter) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		snap:    snap,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
}

// Create registers a new session with a fresh id.
func (r *Registry) Create(in Inputs) Session {
	now := r.now()
	s := Session{
		ID:        uuid.New().String(),
		Status:    StatusStarted,
		Step:      StepExtraction,
		Message:   "Video generation started",
		CreatedAt: now,
		UpdatedAt: now,
		Inputs:    in,
	}

	r.mu.Lock()
	r.entries[s.ID] = &entry{s: s}
	r.mu.Unlock()

	r.save(s)
	return s
}

// Restore inserts a previously persisted session without re-saving it.
func (r *Registry) Restore(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = &entry{s: s}
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (Session, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Session{}, ErrNotFound
	}
	return e.s, nil
}

// Update applies fn to a copy of the session and commits the copy only if fn
// succeeds and the result is consistent. Terminal sessions are never mutated.
func (r *Registry) Update(id string, fn func(s *Session) error) (Session, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Session{}, ErrNotFound
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return Session{}, ErrNotFound
	}
	if e.s.Status.Terminal() {
		cur := e.s
		e.mu.Unlock()
		return cur, ErrTerminal
	}

	next := e.s
	if err := fn(&next); err != nil {
		cur := e.s
		e.mu.Unlock()
		return cur, err
	}
	if err := next.validate(); err != nil {
		cur := e.s
		e.mu.Unlock()
		return cur, err
	}
	next.UpdatedAt = r.now()
	e.s = next
	// Saved under the entry lock so snapshots land in commit order.
	r.save(next)
	e.mu.Unlock()

	return next, nil
}

// Delete forgets a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

// List returns copies of all sessions, newest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.s)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) save(s Session) {
	if r.snap == nil {
		return
	}
	if err := r.snap.SaveSession(s); err != nil {
		r.logger.Warn("failed to persist session snapshot", "session_id", s.ID, "error", err)
	}
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBusy is returned when a session already has a running task and a
	// queued follow-up.
	ErrBusy = errors.New("session already has pending work")
	// ErrShuttingDown is returned by Submit after Shutdown, and is the cancel
	// cause seen by tasks interrupted by shutdown.
	ErrShuttingDown = errors.New("scheduler is shutting down")
	// ErrCancelled is the cancel cause seen by tasks of a cancelled session.
	ErrCancelled = errors.New("session task cancelled")
)

// Task is a unit of background work for one session.
type Task func(ctx context.Context) error

type run struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	next   Task
}

// Scheduler runs session tasks in the background. Tasks for one session run
// strictly one after another; tasks for different sessions run concurrently.
// Every accepted task is invoked, with an already cancelled context when the
// session was cancelled or the scheduler shut down before it started.
type Scheduler struct {
	mu     sync.Mutex
	base   context.Context
	stop   context.CancelCauseFunc
	active map[string]*run
	group  errgroup.Group
	closed bool
	logger *slog.Logger
}

func NewScheduler() *Scheduler {
	base, stop := context.WithCancelCause(context.Background())
	return &Scheduler{
		base:   base,
		stop:   stop,
		active: make(map[string]*run),
		logger: slog.Default(),
	}
}

// Submit schedules task for sessionID. If the session already has a running
// task, task runs after it; at most one follow-up may be queued.
func (s *Scheduler) Submit(sessionID string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptable(sessionID); err != nil {
		return err
	}

	if r, ok := s.active[sessionID]; ok {
		r.next = task
		return nil
	}

	ctx, cancel := context.WithCancelCause(s.base)
	r := &run{ctx: ctx, cancel: cancel}
	s.active[sessionID] = r
	s.group.Go(func() error {
		s.drain(sessionID, r, task)
		return nil
	})
	return nil
}

// Accepts reports whether Submit would currently take a task for sessionID.
func (s *Scheduler) Accepts(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptable(sessionID)
}

func (s *Scheduler) acceptable(sessionID string) error {
	if s.closed {
		return ErrShuttingDown
	}
	if r, ok := s.active[sessionID]; ok && r.next != nil {
		return ErrBusy
	}
	return nil
}

func (s *Scheduler) drain(sessionID string, r *run, task Task) {
	defer r.cancel(nil)
	for task != nil {
		if err := task(r.ctx); err != nil {
			s.logger.Warn("session task failed", "session_id", sessionID, "error", err)
		}

		s.mu.Lock()
		task, r.next = r.next, nil
		if task == nil && s.active[sessionID] == r {
			delete(s.active, sessionID)
		}
		s.mu.Unlock()
	}
}

// Cancel stops the running task of sessionID and drops its queued follow-up.
// It reports whether anything was running.
func (s *Scheduler) Cancel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.active[sessionID]
	if !ok {
		return false
	}
	r.next = nil
	r.cancel(ErrCancelled)
	delete(s.active, sessionID)
	return true
}

// Active reports whether sessionID has an accepted task that has not yet
// returned.
func (s *Scheduler) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// Running returns the number of sessions with a running task.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown refuses new work, cancels running tasks and waits for them to
// return or for ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

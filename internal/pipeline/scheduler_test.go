package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestScheduler_SerialisesPerSession(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	var mu sync.Mutex
	var order []string

	if err := s.Submit("a", func(context.Context) error {
		<-release
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Submit("a", func(context.Context) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Submit follow-up: %v", err)
	}
	if err := s.Submit("a", func(context.Context) error { return nil }); !errors.Is(err, ErrBusy) {
		t.Errorf("third Submit err = %v, want ErrBusy", err)
	}

	close(release)
	waitFor(t, func() bool { return !s.Active("a") })

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v", order)
	}
}

func TestScheduler_SessionsRunConcurrently(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	started := make(chan string, 2)
	release := make(chan struct{})
	for _, id := range []string{"a", "b"} {
		s.Submit(id, func(context.Context) error {
			started <- id
			<-release
			return nil
		})
	}
	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("sessions did not run concurrently")
		}
	}
	if s.Running() != 2 {
		t.Errorf("Running = %d, want 2", s.Running())
	}
	close(release)
}

func TestScheduler_FollowUpAcceptedBeforeFirstTaskStarts(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	ran := make(chan string, 2)
	for _, name := range []string{"first", "second"} {
		if err := s.Submit("a", func(context.Context) error {
			ran <- name
			return nil
		}); err != nil {
			t.Fatalf("Submit %s: %v", name, err)
		}
	}
	for _, want := range []string{"first", "second"} {
		select {
		case got := <-ran:
			if got != want {
				t.Errorf("ran %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s task never ran", want)
		}
	}
	waitFor(t, func() bool { return !s.Active("a") })
}

func TestScheduler_Accepts(t *testing.T) {
	s := NewScheduler()
	release := make(chan struct{})

	if err := s.Accepts("a"); err != nil {
		t.Errorf("Accepts on idle session = %v", err)
	}
	s.Submit("a", func(context.Context) error { <-release; return nil })
	if err := s.Accepts("a"); err != nil {
		t.Errorf("Accepts with one running task = %v", err)
	}
	s.Submit("a", func(context.Context) error { return nil })
	if err := s.Accepts("a"); !errors.Is(err, ErrBusy) {
		t.Errorf("Accepts with queued follow-up = %v, want ErrBusy", err)
	}

	close(release)
	s.Shutdown(context.Background())
	if err := s.Accepts("b"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Accepts after shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	cause := make(chan error, 1)
	s.Submit("a", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return ctx.Err()
	})
	<-started

	if !s.Cancel("a") {
		t.Fatal("Cancel reported nothing running")
	}
	select {
	case got := <-cause:
		if !errors.Is(got, ErrCancelled) {
			t.Errorf("cause = %v, want ErrCancelled", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe cancellation")
	}
	if s.Cancel("a") {
		t.Error("second Cancel reported running work")
	}
}

func TestScheduler_CancelBeforeStartStillInvokes(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	cause := make(chan error, 1)
	s.Submit("b", func(ctx context.Context) error {
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return nil
	})
	s.Cancel("b")

	select {
	case got := <-cause:
		if !errors.Is(got, ErrCancelled) {
			t.Errorf("cause = %v, want ErrCancelled", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled task was never invoked")
	}
}

func TestScheduler_Shutdown(t *testing.T) {
	s := NewScheduler()

	cause := make(chan error, 1)
	s.Submit("a", func(ctx context.Context) error {
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return nil
	})

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case got := <-cause:
		if !errors.Is(got, ErrShuttingDown) {
			t.Errorf("cause = %v, want ErrShuttingDown", got)
		}
	default:
		t.Fatal("Shutdown returned before the task did")
	}
	if err := s.Submit("b", func(context.Context) error { return nil }); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Submit after shutdown err = %v", err)
	}
	if s.Running() != 0 {
		t.Errorf("Running = %d after shutdown", s.Running())
	}
}

func TestScheduler_ShutdownDeadline(t *testing.T) {
	s := NewScheduler()
	release := make(chan struct{})
	defer close(release)
	s.Submit("a", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown err = %v, want deadline exceeded", err)
	}
}

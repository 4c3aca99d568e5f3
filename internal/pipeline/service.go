package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kalambet/adgen/internal/notify"
	"github.com/kalambet/adgen/internal/session"
	"github.com/kalambet/adgen/internal/storage"
)

// ErrInvalidInput is returned for start requests that fail validation.
var ErrInvalidInput = errors.New("invalid input")

const interruptedMessage = "interrupted by server restart"

var approvalSignals = map[string]bool{
	"":           true,
	"approve":    true,
	"approved":   true,
	"lgtm":       true,
	"looks good": true,
	"ok":         true,
	"yes":        true,
	"proceed":    true,
}

// IsApproval reports whether feedback approves the script as is.
func IsApproval(feedback string) bool {
	return approvalSignals[strings.ToLower(strings.TrimSpace(feedback))]
}

// History is the persisted view of sessions.
type History interface {
	GetSession(id string) (session.Session, error)
	ListSessions(limit int) ([]session.Session, error)
	DeleteSession(id string) error
}

// WorkspaceRemover tears down a session's artifacts.
type WorkspaceRemover interface {
	Remove(sessionID string) error
}

// ChannelCloser drops a session's live notification channel.
type ChannelCloser interface {
	Close(sessionID string)
}

// StartRequest carries the client's generation parameters. Zero values are
// replaced by the service defaults.
type StartRequest struct {
	ProductURL string `json:"product_url"`
	AvatarID   string `json:"avatar_id,omitempty"`
	VoiceID    string `json:"voice_id,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// ServiceDeps wires a Service.
type ServiceDeps struct {
	Registry     *session.Registry
	Orchestrator *Orchestrator
	Scheduler    *Scheduler
	History      History
	Workspaces   WorkspaceRemover
	Channels     ChannelCloser
	Notifier     notify.Notifier
	Defaults     session.Inputs
}

// Service is the entry point used by the HTTP, MCP and CLI surfaces.
type Service struct {
	registry  *session.Registry
	orch      *Orchestrator
	sched     *Scheduler
	history   History
	workspace WorkspaceRemover
	channels  ChannelCloser
	notifier  notify.Notifier
	defaults  session.Inputs
	logger    *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	n := d.Notifier
	if n == nil {
		n = notify.Multi(nil)
	}
	return &Service{
		registry:  d.Registry,
		orch:      d.Orchestrator,
		sched:     d.Scheduler,
		history:   d.History,
		workspace: d.Workspaces,
		channels:  d.Channels,
		notifier:  n,
		defaults:  d.Defaults,
		logger:    slog.Default(),
	}
}

// Start validates req, creates a session and schedules its pipeline. It never
// waits for the pipeline.
func (s *Service) Start(req StartRequest) (session.Session, error) {
	if err := validateProductURL(req.ProductURL); err != nil {
		return session.Session{}, err
	}
	if req.Width < 0 || req.Height < 0 {
		return session.Session{}, fmt.Errorf("%w: width and height must be positive", ErrInvalidInput)
	}

	in := session.Inputs{
		ProductURL: strings.TrimSpace(req.ProductURL),
		AvatarID:   firstNonEmpty(req.AvatarID, s.defaults.AvatarID),
		VoiceID:    firstNonEmpty(req.VoiceID, s.defaults.VoiceID),
		Width:      firstPositive(req.Width, s.defaults.Width),
		Height:     firstPositive(req.Height, s.defaults.Height),
	}
	sess := s.registry.Create(in)
	id := sess.ID
	if err := s.sched.Submit(id, func(ctx context.Context) error { return s.orch.Run(ctx, id) }); err != nil {
		_ = s.registry.Delete(id)
		s.forget(id)
		return session.Session{}, fmt.Errorf("scheduling session: %w", err)
	}
	s.logger.Info("session started", "session_id", id, "product_url", in.ProductURL)
	return sess, nil
}

// Get returns a live session, falling back to persisted history.
func (s *Service) Get(id string) (session.Session, error) {
	sess, err := s.registry.Get(id)
	if err == nil || !errors.Is(err, session.ErrNotFound) || s.history == nil {
		return sess, err
	}
	sess, err = s.history.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		return session.Session{}, session.ErrNotFound
	}
	return sess, err
}

// SubmitFeedback opens the feedback gate of an awaiting session and schedules
// the revision. Sessions not awaiting feedback, and feedback the scheduler
// cannot take, leave the session untouched.
func (s *Service) SubmitFeedback(id, feedback string) (session.Session, error) {
	var prev session.Session
	sess, err := s.registry.Update(id, func(sess *session.Session) error {
		prev = *sess
		if err := sess.BeginRevision(strings.TrimSpace(feedback)); err != nil {
			return err
		}
		return s.sched.Accepts(id)
	})
	if err != nil {
		if errors.Is(err, session.ErrTerminal) {
			return sess, fmt.Errorf("%w: %w", session.ErrNotAwaitingFeedback, err)
		}
		return sess, err
	}
	s.notifier.Notify(id, notify.StageStarted(session.StepScriptRevision, sess.Message))

	if err := s.sched.Submit(id, func(ctx context.Context) error { return s.orch.Continue(ctx, id) }); err != nil {
		s.reopenGate(id, prev)
		return prev, fmt.Errorf("scheduling revision: %w", err)
	}
	return sess, nil
}

// reopenGate puts a session whose revision could not be scheduled back at the
// feedback gate it was taken from.
func (s *Service) reopenGate(id string, prev session.Session) {
	_, err := s.registry.Update(id, func(sess *session.Session) error {
		sess.AwaitFeedback(prev.Script, prev.Message)
		sess.Revisions = prev.Revisions
		return nil
	})
	if err != nil {
		s.logger.Warn("restoring feedback gate", "session_id", id, "error", err)
		return
	}
	s.notifier.Notify(id, notify.AwaitingFeedback(prev.Script, prev.Message))
}

// Delete cancels any running work and removes every trace of the session.
func (s *Service) Delete(id string) error {
	_, liveErr := s.registry.Get(id)
	var histErr error = storage.ErrNotFound
	if s.history != nil {
		_, histErr = s.history.GetSession(id)
	}
	if liveErr != nil && histErr != nil {
		return session.ErrNotFound
	}

	s.sched.Cancel(id)
	_ = s.registry.Delete(id)
	s.forget(id)
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

func (s *Service) forget(id string) {
	if s.channels != nil {
		s.channels.Close(id)
	}
	if s.workspace != nil {
		if err := s.workspace.Remove(id); err != nil {
			s.logger.Warn("removing session workspace", "session_id", id, "error", err)
		}
	}
	if s.history != nil {
		if err := s.history.DeleteSession(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("removing session snapshot", "session_id", id, "error", err)
		}
	}
}

// List returns sessions newest first. limit <= 0 means all.
func (s *Service) List(limit int) ([]session.Session, error) {
	if s.history != nil {
		return s.history.ListSessions(limit)
	}
	all := s.registry.List()
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Recover reloads persisted sessions that were still open when the process
// stopped. Sessions waiting on feedback resume where they were; sessions that
// were mid-stage are failed because their task is gone.
func (s *Service) Recover() (int, error) {
	if s.history == nil {
		return 0, nil
	}
	all, err := s.history.ListSessions(0)
	if err != nil {
		return 0, fmt.Errorf("listing persisted sessions: %w", err)
	}

	n := 0
	for _, sess := range all {
		if sess.Status.Terminal() {
			continue
		}
		s.registry.Restore(sess)
		n++
		if sess.Status == session.StatusAwaitingFeedback {
			continue
		}
		if _, err := s.registry.Update(sess.ID, func(x *session.Session) error {
			x.Fail(interruptedMessage)
			return nil
		}); err != nil {
			s.logger.Warn("failing interrupted session", "session_id", sess.ID, "error", err)
		}
	}
	return n, nil
}

// Running returns the number of sessions with active background work.
func (s *Service) Running() int {
	return s.sched.Running()
}

// Shutdown stops accepting work and waits for running tasks to unwind.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.sched.Shutdown(ctx)
}

func validateProductURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: product_url is required", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: product_url must be an absolute http(s) URL", ErrInvalidInput)
	}
	return nil
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func firstPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/adgen/internal/agent"
	"github.com/kalambet/adgen/internal/artifact"
	"github.com/kalambet/adgen/internal/media"
	"github.com/kalambet/adgen/internal/notify"
	"github.com/kalambet/adgen/internal/session"
)

// ProductImageName is the artifact holding the product photo, when one was found.
const ProductImageName = "product_image"

// Invoker runs one agent stage as a single logical operation.
type Invoker interface {
	Invoke(ctx context.Context, stage string, input any) (json.RawMessage, error)
}

// Sessions is the session record store the orchestrator mutates.
type Sessions interface {
	Get(id string) (session.Session, error)
	Update(id string, fn func(s *session.Session) error) (session.Session, error)
}

// Workspaces hands out the artifact namespace of a session.
type Workspaces interface {
	Workspace(sessionID string) (*artifact.Workspace, error)
}

// Assembler produces the final video from the session's clips.
type Assembler interface {
	Assemble(ctx context.Context, store media.ArtifactStore) (media.Result, error)
}

// Downloader fetches media produced by remote generators.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Timeouts bound each stage. Zero disables the bound for that stage.
type Timeouts struct {
	Extraction time.Duration
	Market     time.Duration
	Script     time.Duration
	Video      time.Duration
	Processing time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Extraction: 2 * time.Minute,
		Market:     5 * time.Minute,
		Script:     2 * time.Minute,
		Video:      20 * time.Minute,
		Processing: 10 * time.Minute,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sessions   Sessions
	Agent      Invoker
	Workspaces Workspaces
	Assembler  Assembler
	Downloader Downloader
	Notifier   notify.Notifier
	Timeouts   Timeouts
}

// Orchestrator drives sessions through extraction, research, scripting, the
// feedback gate, video generation and assembly.
type Orchestrator struct {
	sessions   Sessions
	agent      Invoker
	workspaces Workspaces
	assembler  Assembler
	downloader Downloader
	notifier   notify.Notifier
	timeouts   Timeouts
	logger     *slog.Logger
}

func NewOrchestrator(d Deps) *Orchestrator {
	n := d.Notifier
	if n == nil {
		n = notify.Multi(nil)
	}
	return &Orchestrator{
		sessions:   d.Sessions,
		agent:      d.Agent,
		workspaces: d.Workspaces,
		assembler:  d.Assembler,
		downloader: d.Downloader,
		notifier:   n,
		timeouts:   d.Timeouts,
		logger:     slog.Default(),
	}
}

// Run takes a freshly created session up to the feedback gate.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	return o.guard(ctx, id, o.run)
}

// Continue resumes a session after feedback was accepted: it either revises
// the script and returns to the gate, or on approval generates the video.
func (o *Orchestrator) Continue(ctx context.Context, id string) error {
	return o.guard(ctx, id, o.resume)
}

func (o *Orchestrator) run(ctx context.Context, id string) error {
	s, err := o.sessions.Get(id)
	if err != nil {
		return err
	}

	if err := o.enter(id, session.StepExtraction, "Extracting product information..."); err != nil {
		return err
	}
	var md session.Metadata
	if err := o.invoke(ctx, o.timeouts.Extraction, agent.StageExtraction, agent.ExtractionInput{ProductURL: s.Inputs.ProductURL}, &md); err != nil {
		return err
	}
	if md.ProductURL == "" {
		md.ProductURL = s.Inputs.ProductURL
	}
	if err := o.commit(id, func(s *session.Session) { s.Metadata = &md }); err != nil {
		return err
	}
	o.saveProductImage(ctx, id, md.ImageURL)
	o.notifier.Notify(id, notify.StageCompleted(session.StepExtraction, "Product information extracted"))

	if err := o.enter(id, session.StepMarketResearch, "Analyzing market..."); err != nil {
		return err
	}
	var analysis session.MarketAnalysis
	if err := o.invoke(ctx, o.timeouts.Market, agent.StageMarket, agent.MarketInput{Metadata: md}, &analysis); err != nil {
		return err
	}
	if err := o.commit(id, func(s *session.Session) { s.MarketAnalysis = &analysis }); err != nil {
		return err
	}
	o.notifier.Notify(id, notify.StageCompleted(session.StepMarketResearch, "Market analysis complete"))

	if err := o.enter(id, session.StepScriptGeneration, "Generating script..."); err != nil {
		return err
	}
	var script session.Script
	in := agent.ScriptInput{Metadata: md, MarketAnalysis: &analysis}
	if err := o.invoke(ctx, o.timeouts.Script, agent.StageScript, in, &script); err != nil {
		return err
	}
	return o.awaitFeedback(id, &script, "Script generated. Review it and submit feedback or approve.")
}

func (o *Orchestrator) resume(ctx context.Context, id string) error {
	s, err := o.sessions.Get(id)
	if err != nil {
		return err
	}
	if s.Step != session.StepScriptRevision {
		return fmt.Errorf("session %s is not revising its script (step %s)", id, s.Step)
	}

	if IsApproval(s.Feedback) {
		o.notifier.Notify(id, notify.StageCompleted(session.StepScriptRevision, "Script approved"))
		return o.produce(ctx, s)
	}

	if s.Metadata == nil || s.Script == nil {
		return errors.New("session has no script to revise")
	}
	var revised session.Script
	in := agent.ScriptInput{
		Metadata:       *s.Metadata,
		MarketAnalysis: s.MarketAnalysis,
		Previous:       s.Script,
		Feedback:       s.Feedback,
	}
	if err := o.invoke(ctx, o.timeouts.Script, agent.StageRevision, in, &revised); err != nil {
		return err
	}
	return o.awaitFeedback(id, &revised, "Script updated. Review it and submit feedback or approve.")
}

// produce generates both clips concurrently, then assembles them.
func (o *Orchestrator) produce(ctx context.Context, s session.Session) error {
	id := s.ID
	if s.Script == nil {
		return errors.New("session has no approved script")
	}
	ws, err := o.workspaces.Workspace(id)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}

	if err := o.enter(id, session.StepVideoGeneration, "Generating videos..."); err != nil {
		return err
	}
	vctx, cancel := withTimeout(ctx, o.timeouts.Video)
	defer cancel()
	g, gctx := errgroup.WithContext(vctx)
	g.Go(func() error {
		return o.roll(gctx, ws, agent.StageARoll, rollInput(s.Inputs, s.Script.AudioScript), media.ARollName)
	})
	g.Go(func() error {
		return o.roll(gctx, ws, agent.StageBRoll, rollInput(s.Inputs, s.Script.VideoScript), media.BRollName)
	})
	if err := g.Wait(); err != nil {
		return deadlineError(vctx, ctx, err, string(session.StepVideoGeneration), o.timeouts.Video)
	}
	o.notifier.Notify(id, notify.StageCompleted(session.StepVideoGeneration, "Videos generated"))

	if err := o.enter(id, session.StepProcessing, "Processing final video..."); err != nil {
		return err
	}
	pctx, cancel := withTimeout(ctx, o.timeouts.Processing)
	defer cancel()
	res, err := o.assembler.Assemble(pctx, ws)
	if err != nil {
		return deadlineError(pctx, ctx, fmt.Errorf("assembling video: %w", err), string(session.StepProcessing), o.timeouts.Processing)
	}

	msg := "Video generation completed!"
	publishFailed := res.PublishErr != nil
	if publishFailed {
		o.logger.Warn("video publish failed", "session_id", id, "error", res.PublishErr)
		msg = "Video processed, but publishing failed; the output is stored locally."
	}
	uri := res.URI()
	if err := o.commit(id, func(s *session.Session) { s.Complete(uri, publishFailed, msg) }); err != nil {
		return err
	}
	o.notifier.Notify(id, notify.Completed(uri, publishFailed, msg))
	o.logger.Info("session completed", "session_id", id, "video", uri, "duration", res.Plan.Duration())
	return nil
}

func rollInput(in session.Inputs, script string) agent.RollInput {
	return agent.RollInput{
		Script:   script,
		AvatarID: in.AvatarID,
		VoiceID:  in.VoiceID,
		Width:    in.Width,
		Height:   in.Height,
	}
}

func (o *Orchestrator) roll(ctx context.Context, ws *artifact.Workspace, stage string, in agent.RollInput, name string) error {
	var out agent.RollOutput
	if err := o.invoke(ctx, 0, stage, in, &out); err != nil {
		return err
	}
	if out.VideoURL == "" {
		return fmt.Errorf("%s stage returned no video", stage)
	}
	data, _, err := o.downloader.Download(ctx, out.VideoURL)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", name, err)
	}
	if err := ws.Save(name, data, "video/mp4"); err != nil {
		return fmt.Errorf("storing %s: %w", name, err)
	}
	return nil
}

// saveProductImage stores the product photo. Failures only cost the image.
func (o *Orchestrator) saveProductImage(ctx context.Context, id, imageURL string) {
	if imageURL == "" || o.downloader == nil {
		return
	}
	ctx, cancel := withTimeout(ctx, o.timeouts.Extraction)
	defer cancel()

	data, mimeType, err := o.downloader.Download(ctx, imageURL)
	if err == nil {
		var ws *artifact.Workspace
		if ws, err = o.workspaces.Workspace(id); err == nil {
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			err = ws.Save(ProductImageName, data, mimeType)
		}
	}
	if err != nil {
		o.logger.Warn("product image not saved", "session_id", id, "url", imageURL, "error", err)
	}
}

// enter commits a step change and announces it before any work for the step starts.
func (o *Orchestrator) enter(id string, step session.Step, msg string) error {
	if err := o.commit(id, func(s *session.Session) { s.Enter(step, msg) }); err != nil {
		return err
	}
	o.notifier.Notify(id, notify.StageStarted(step, msg))
	o.logger.Debug("stage started", "session_id", id, "step", step)
	return nil
}

func (o *Orchestrator) awaitFeedback(id string, script *session.Script, msg string) error {
	if err := o.commit(id, func(s *session.Session) { s.AwaitFeedback(script, msg) }); err != nil {
		return err
	}
	o.notifier.Notify(id, notify.AwaitingFeedback(script, msg))
	return nil
}

func (o *Orchestrator) commit(id string, fn func(s *session.Session)) error {
	_, err := o.sessions.Update(id, func(s *session.Session) error {
		fn(s)
		return nil
	})
	return err
}

func (o *Orchestrator) invoke(ctx context.Context, timeout time.Duration, stage string, in, out any) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := o.agent.Invoke(ctx, stage, in)
	if err != nil {
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return fmt.Errorf("%s timed out after %s", stage, timeout)
		}
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", stage, err)
	}
	o.logger.Debug("stage finished", "stage", stage, "elapsed", time.Since(start))
	return nil
}

// guard runs step and turns any failure into a terminal error state, unless
// the session was deleted or the process is shutting down.
func (o *Orchestrator) guard(ctx context.Context, id string, step func(context.Context, string) error) error {
	err := step(ctx, id)
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && (errors.Is(cause, ErrShuttingDown) || errors.Is(cause, ErrCancelled)) {
		o.logger.Info("session task stopped", "session_id", id, "reason", cause)
		return err
	}
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrTerminal) {
		return err
	}

	msg := failureMessage(err)
	o.logger.Error("session failed", "session_id", id, "error", err)
	if ferr := o.commit(id, func(s *session.Session) { s.Fail(msg) }); ferr != nil {
		o.logger.Warn("recording session failure", "session_id", id, "error", ferr)
		return err
	}
	o.notifier.Notify(id, notify.Failed(msg))
	return err
}

func failureMessage(err error) string {
	var te *media.TranscodeError
	if errors.As(err, &te) {
		return "Video processing failed: " + strings.TrimSpace(te.Error())
	}
	return "Error: " + err.Error()
}

// deadlineError reports err as a stage timeout when stageCtx hit its own
// deadline while the parent was still live.
func deadlineError(stageCtx, parent context.Context, err error, stage string, d time.Duration) error {
	if d > 0 && parent.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", stage, d)
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kalambet/adgen/internal/artifact"
)

// Artifact names consumed and produced by the assembler.
const (
	ARollName  = "a_roll.mp4"
	BRollName  = "b_roll.mp4"
	OutputName = "processed_video.mp4"
)

// ErrMissingArtifact is returned when an input clip is absent or empty.
var ErrMissingArtifact = errors.New("missing artifact")

// Engine probes and transcodes media files.
type Engine interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Transcode(ctx context.Context, inputs []string, filter string, outArgs []string, output string) error
}

// ArtifactStore is the session-scoped blob store the assembler reads from and
// writes its output to.
type ArtifactStore interface {
	Load(name string) (artifact.Artifact, error)
	Save(name string, data []byte, mimeType string) error
	Path(name string) string
}

// Publisher copies a local file to durable storage and returns its public URI.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// muxArgs map the alternated video and A's untouched audio into the output.
var muxArgs = []string{
	"-map", "[outv]",
	"-map", "0:a",
	"-c:v", "libx264",
	"-c:a", "aac",
}

// Result describes a successful assembly.
type Result struct {
	Plan Plan
	// LocalPath is where the output lives in the artifact store.
	LocalPath string
	// URL is the published URI; empty when publishing is disabled or failed.
	URL string
	// PublishErr is set when muxing succeeded but publishing did not.
	PublishErr error
}

// URI returns the best reference to the output: the published URL when
// available, otherwise a file URI to the local copy.
func (r Result) URI() string {
	if r.URL != "" {
		return r.URL
	}
	return "file://" + r.LocalPath
}

// Assembler produces the final A/B alternated video for a session.
type Assembler struct {
	engine     Engine
	publisher  Publisher
	scratchDir string
	logger     *slog.Logger
}

// NewAssembler creates an Assembler. publisher may be nil to skip publishing.
// scratchDir is the parent for per-run temporary directories; empty means os.TempDir.
func NewAssembler(engine Engine, publisher Publisher, scratchDir string) *Assembler {
	return &Assembler{
		engine:     engine,
		publisher:  publisher,
		scratchDir: scratchDir,
		logger:     slog.Default(),
	}
}

// Assemble alternates A and B video over A's full audio track, stores the
// output as OutputName and optionally publishes it.
//
// A non-zero ffmpeg exit is returned as *TranscodeError. A publish failure is
// not an error; it is reported in Result.PublishErr.
func (a *Assembler) Assemble(ctx context.Context, store ArtifactStore) (Result, error) {
	aRoll, err := loadInput(store, ARollName)
	if err != nil {
		return Result{}, err
	}
	bRoll, err := loadInput(store, BRollName)
	if err != nil {
		return Result{}, err
	}

	if a.scratchDir != "" {
		if err := os.MkdirAll(a.scratchDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("creating scratch dir: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(a.scratchDir, "assemble-*")
	if err != nil {
		return Result{}, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	aPath := filepath.Join(scratch, ARollName)
	bPath := filepath.Join(scratch, BRollName)
	outPath := filepath.Join(scratch, OutputName)
	if err := os.WriteFile(aPath, aRoll.Data, 0o600); err != nil {
		return Result{}, fmt.Errorf("writing %s: %w", ARollName, err)
	}
	if err := os.WriteFile(bPath, bRoll.Data, 0o600); err != nil {
		return Result{}, fmt.Errorf("writing %s: %w", BRollName, err)
	}

	aDur, err := a.engine.ProbeDuration(ctx, aPath)
	if err != nil {
		return Result{}, fmt.Errorf("probing %s: %w", ARollName, err)
	}
	bDur, err := a.engine.ProbeDuration(ctx, bPath)
	if err != nil {
		return Result{}, fmt.Errorf("probing %s: %w", BRollName, err)
	}

	plan, err := PlanSegments(aDur, bDur)
	if err != nil {
		return Result{}, fmt.Errorf("planning segments: %w", err)
	}

	a.logger.Debug("assembling video", "a_duration", aDur, "b_duration", bDur)

	if err := a.engine.Transcode(ctx, []string{aPath, bPath}, plan.FilterGraph(), muxArgs, outPath); err != nil {
		var te *TranscodeError
		if errors.As(err, &te) {
			return Result{}, te
		}
		return Result{}, fmt.Errorf("transcoding: %w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("reading output: %w", err)
	}
	if err := store.Save(OutputName, out, "video/mp4"); err != nil {
		return Result{}, fmt.Errorf("saving %s: %w", OutputName, err)
	}

	res := Result{Plan: plan, LocalPath: store.Path(OutputName)}
	if a.publisher == nil {
		return res, nil
	}

	url, err := a.publisher.Publish(ctx, res.LocalPath)
	if err != nil {
		a.logger.Warn("publishing video failed", "error", err)
		res.PublishErr = err
		return res, nil
	}
	res.URL = url
	return res, nil
}

func loadInput(store ArtifactStore, name string) (artifact.Artifact, error) {
	art, err := store.Load(name)
	if errors.Is(err, artifact.ErrNotFound) {
		return artifact.Artifact{}, fmt.Errorf("%w: %s", ErrMissingArtifact, name)
	}
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("loading %s: %w", name, err)
	}
	if len(art.Data) == 0 {
		return artifact.Artifact{}, fmt.Errorf("%w: %s is empty", ErrMissingArtifact, name)
	}
	return art, nil
}

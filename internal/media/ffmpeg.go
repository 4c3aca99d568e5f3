package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// TranscodeError is a non-zero exit from ffmpeg or ffprobe. Stderr holds the
// tool's diagnostic text unmodified.
type TranscodeError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("%s failed (exit %d):\n%s", e.Tool, e.ExitCode, e.Stderr)
}

// ProbeError is a duration probe whose output could not be interpreted.
type ProbeError struct {
	Path   string
	Reason string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing duration of %s: %s", e.Path, e.Reason)
}

// runFunc executes a command and returns its stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FFmpeg drives the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	run         runFunc
}

// NewFFmpeg returns an engine using the given binaries. Empty paths resolve
// to "ffmpeg" and "ffprobe" on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, run: execRun}
}

type probeOutput struct {
	Format *struct {
		Duration *string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the container duration of path in seconds.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	stdout, stderr, err := f.run(ctx, f.ffprobePath, "-v", "quiet", "-print_format", "json", "-show_format", path)
	if err != nil {
		return 0, toolError("ffprobe", stderr, err)
	}

	var out probeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return 0, &ProbeError{Path: path, Reason: fmt.Sprintf("unparsable output: %v", err)}
	}
	if out.Format == nil || out.Format.Duration == nil {
		return 0, &ProbeError{Path: path, Reason: "missing format.duration"}
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(*out.Format.Duration), 64)
	if err != nil {
		return 0, &ProbeError{Path: path, Reason: fmt.Sprintf("invalid duration %q", *out.Format.Duration)}
	}
	return d, nil
}

// Transcode runs ffmpeg over inputs with the given filter graph and extra
// output arguments, overwriting output.
func (f *FFmpeg) Transcode(ctx context.Context, inputs []string, filter string, outArgs []string, output string) error {
	args := []string{"-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	if filter != "" {
		args = append(args, "-filter_complex", filter)
	}
	args = append(args, outArgs...)
	args = append(args, output)

	if _, stderr, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return toolError("ffmpeg", stderr, err)
	}
	return nil
}

type exitCoder interface {
	error
	ExitCode() int
}

func toolError(tool string, stderr []byte, err error) error {
	// *exec.ExitError satisfies exitCoder.
	var exitErr exitCoder
	if errors.As(err, &exitErr) {
		return &TranscodeError{Tool: tool, ExitCode: exitErr.ExitCode(), Stderr: string(stderr)}
	}
	return fmt.Errorf("running %s: %w", tool, err)
}

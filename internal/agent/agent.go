// Package agent implements the generation stages the pipeline delegates to
// external services: product extraction, market research, script writing and
// the two video generators. Every stage is reached through Router.Invoke,
// which takes a JSON-serialisable payload and returns the stage result as JSON.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kalambet/adgen/internal/session"
)

// Stage names understood by Router.
const (
	StageExtraction = "extraction"
	StageMarket     = "market_research"
	StageScript     = "script_generation"
	StageRevision   = "script_revision"
	StageARoll      = "a_roll"
	StageBRoll      = "b_roll"
)

// ErrUnknownStage is returned by Invoke for stages without a handler.
var ErrUnknownStage = errors.New("unknown stage")

type ExtractionInput struct {
	ProductURL string `json:"product_url"`
}

type MarketInput struct {
	Metadata session.Metadata `json:"metadata"`
}

// ScriptInput drives both initial generation and revision. Previous and
// Feedback are set only for revisions.
type ScriptInput struct {
	Metadata       session.Metadata        `json:"metadata"`
	MarketAnalysis *session.MarketAnalysis `json:"market_analysis,omitempty"`
	Previous       *session.Script         `json:"previous,omitempty"`
	Feedback       string                  `json:"feedback,omitempty"`
}

type RollInput struct {
	Script   string `json:"script"`
	AvatarID string `json:"avatar_id,omitempty"`
	VoiceID  string `json:"voice_id,omitempty"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type RollOutput struct {
	VideoURL string `json:"video_url"`
}

// StageFunc runs one stage on a raw JSON payload.
type StageFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Router dispatches stage invocations by name.
type Router struct {
	mu     sync.RWMutex
	stages map[string]StageFunc
}

func NewRouter() *Router {
	return &Router{stages: make(map[string]StageFunc)}
}

// Handle registers fn for stage, replacing any previous handler.
func (r *Router) Handle(stage string, fn StageFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage] = fn
}

// Invoke runs stage with input and returns its JSON-encoded result. The call
// is a single logical operation: it either yields a payload or fails.
func (r *Router) Invoke(ctx context.Context, stage string, input any) (json.RawMessage, error) {
	r.mu.RLock()
	fn, ok := r.stages[stage]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s input: %w", stage, err)
	}
	out, err := fn(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", stage, err)
	}
	result, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s result: %w", stage, err)
	}
	return result, nil
}

// Typed adapts a typed handler into a StageFunc.
func Typed[In, Out any](fn func(ctx context.Context, in In) (Out, error)) StageFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in In
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decoding input: %w", err)
		}
		return fn(ctx, in)
	}
}

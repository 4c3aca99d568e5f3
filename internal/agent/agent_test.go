package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

type fakeGenerator struct {
	mu      sync.Mutex
	out     string
	err     error
	prompts []string
	schemas []*genai.Schema
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _, prompt string, schema *genai.Schema) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.schemas = append(f.schemas, schema)
	return f.out, f.err
}

func TestRouter_Invoke(t *testing.T) {
	r := NewRouter()
	r.Handle("echo", Typed(func(_ context.Context, in ExtractionInput) (RollOutput, error) {
		return RollOutput{VideoURL: in.ProductURL + "/video.mp4"}, nil
	}))

	raw, err := r.Invoke(context.Background(), "echo", ExtractionInput{ProductURL: "https://shop"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var out RollOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out.VideoURL != "https://shop/video.mp4" {
		t.Errorf("VideoURL = %q", out.VideoURL)
	}
}

func TestRouter_UnknownStage(t *testing.T) {
	_, err := NewRouter().Invoke(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownStage) {
		t.Errorf("err = %v, want ErrUnknownStage", err)
	}
}

func TestRouter_StageError(t *testing.T) {
	r := NewRouter()
	boom := errors.New("boom")
	r.Handle(StageMarket, Typed(func(context.Context, MarketInput) (any, error) { return nil, boom }))

	_, err := r.Invoke(context.Background(), StageMarket, MarketInput{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestBackends_Router(t *testing.T) {
	gen := &fakeGenerator{out: `{"audio_script":"Hi there","video_script":"A slow pan"}`}
	r := Backends{Script: NewScriptWriter(gen)}.Router()

	for _, stage := range []string{StageScript, StageRevision} {
		if _, err := r.Invoke(context.Background(), stage, ScriptInput{}); err != nil {
			t.Errorf("%s: %v", stage, err)
		}
	}
	if _, err := r.Invoke(context.Background(), StageARoll, RollInput{}); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("unconfigured stage err = %v", err)
	}
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/adgen/internal/session"
)

const scriptSystem = `You write scripts for 30 to 45 second product video ads.
The ad alternates a talking presenter with product footage.
audio_script is what the presenter says: conversational, first person, no stage
directions, no emojis, roughly 80 to 110 words, ending with a call to action.
video_script describes the product footage for a text-to-video model: one
continuous scene, concrete visuals, camera movement and lighting, no people,
no on-screen text.`

// ScriptWriter produces and revises ad scripts.
type ScriptWriter struct {
	gen Generator
}

func NewScriptWriter(gen Generator) *ScriptWriter {
	return &ScriptWriter{gen: gen}
}

// Run writes a new script, or revises in.Previous when feedback is present.
func (w *ScriptWriter) Run(ctx context.Context, in ScriptInput) (session.Script, error) {
	raw, err := w.gen.GenerateJSON(ctx, scriptSystem, scriptPrompt(in), scriptSchema)
	if err != nil {
		return session.Script{}, err
	}
	var s session.Script
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return session.Script{}, fmt.Errorf("decoding script: %w", err)
	}
	s.AudioScript = strings.TrimSpace(s.AudioScript)
	s.VideoScript = strings.TrimSpace(s.VideoScript)
	if s.AudioScript == "" || s.VideoScript == "" {
		return session.Script{}, errors.New("generated script is incomplete")
	}
	return s, nil
}

func scriptPrompt(in ScriptInput) string {
	var sb strings.Builder
	product, _ := json.MarshalIndent(in.Metadata, "", "  ")
	fmt.Fprintf(&sb, "Product:\n%s\n", product)
	if in.MarketAnalysis != nil {
		market, _ := json.MarshalIndent(in.MarketAnalysis, "", "  ")
		fmt.Fprintf(&sb, "\nMarket research:\n%s\n", market)
	}
	if in.Previous != nil {
		fmt.Fprintf(&sb, "\nCurrent script:\naudio_script: %s\nvideo_script: %s\n", in.Previous.AudioScript, in.Previous.VideoScript)
		fmt.Fprintf(&sb, "\nRevise the current script according to this reviewer feedback. Keep what the feedback does not mention.\nFeedback: %s\n", in.Feedback)
	} else {
		sb.WriteString("\nWrite the ad script.\n")
	}
	return sb.String()
}

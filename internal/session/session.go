package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a session id is unknown to the registry.
	ErrNotFound = errors.New("session not found")
	// ErrNotAwaitingFeedback is returned when feedback is submitted while the
	// workflow is not blocked on the feedback gate.
	ErrNotAwaitingFeedback = errors.New("session not awaiting feedback")
	// ErrTerminal is returned when a mutation targets a completed or failed session.
	ErrTerminal = errors.New("session is in a terminal state")
)

// Status is the coarse liveness flag of a session.
type Status string

const (
	StatusStarted          Status = "started"
	StatusProcessing       Status = "processing"
	StatusAwaitingFeedback Status = "awaiting_feedback"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Step is the fine-grained progress marker of a session.
type Step string

const (
	StepExtraction       Step = "extraction"
	StepMarketResearch   Step = "market_research"
	StepScriptGeneration Step = "script_generation"
	StepAwaitingFeedback Step = "awaiting_feedback"
	StepScriptRevision   Step = "script_revision"
	StepVideoGeneration  Step = "video_generation"
	StepProcessing       Step = "processing"
	StepFinished         Step = "finished"
	StepError            Step = "error"
)

// Inputs are the generation parameters supplied at creation. Immutable.
type Inputs struct {
	ProductURL string `json:"product_url"`
	AvatarID   string `json:"avatar_id"`
	VoiceID    string `json:"voice_id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Metadata describes the product extracted from its page.
type Metadata struct {
	Brand           string   `json:"brand"`
	ProductName     string   `json:"product_name"`
	ProductCategory string   `json:"product_category"`
	Description     string   `json:"description"`
	KeyFeatures     []string `json:"key_features"`
	Price           string   `json:"price"`
	ImageURL        string   `json:"image_url"`
	ProductURL      string   `json:"product_url"`
}

type Demographics struct {
	Age    string `json:"age,omitempty"`
	Income string `json:"income,omitempty"`
	Gender string `json:"gender,omitempty"`
}

type AudienceInsights struct {
	Demographics   Demographics `json:"demographics"`
	Psychographics []string     `json:"psychographics"`
}

type Competitor struct {
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	Price       string   `json:"price"`
	Features    []string `json:"features"`
	Description string   `json:"description"`
	ProductURL  string   `json:"product_url"`
}

// MarketAnalysis is the output of the market research stage.
type MarketAnalysis struct {
	MarketSize       string           `json:"market_size"`
	MarketTrends     []string         `json:"market_trends"`
	AudienceInsights AudienceInsights `json:"audience_insights"`
	Competitors      []Competitor     `json:"competitors"`
}

// Script is the two-track ad script: narration for the presenter clip and
// scene directions for the product footage.
type Script struct {
	AudioScript string `json:"audio_script"`
	VideoScript string `json:"video_script"`
}

// Session is one end-to-end generation run.
//
// Pointer and slice fields are replaced, never mutated in place, so a shallow
// copy handed out by the Registry is safe to read concurrently.
type Session struct {
	ID               string          `json:"session_id"`
	Status           Status          `json:"status"`
	Step             Step            `json:"step"`
	Message          string          `json:"message"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Inputs           Inputs          `json:"inputs"`
	Metadata         *Metadata       `json:"metadata"`
	MarketAnalysis   *MarketAnalysis `json:"market_analysis"`
	Script           *Script         `json:"script"`
	AwaitingFeedback bool            `json:"awaiting_feedback"`
	Feedback         string          `json:"feedback,omitempty"`
	Revisions        int             `json:"revisions"`
	FinalVideo       string          `json:"final_video"`
	PublishFailed    bool            `json:"publish_failed,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Enter moves the session into a working step.
func (s *Session) Enter(step Step, message string) {
	s.Status = StatusProcessing
	s.Step = step
	s.Message = message
	s.AwaitingFeedback = false
}

// AwaitFeedback stores a freshly produced script and closes the feedback gate.
// Any previously applied feedback is consumed.
func (s *Session) AwaitFeedback(script *Script, message string) {
	s.Script = script
	s.Status = StatusAwaitingFeedback
	s.Step = StepAwaitingFeedback
	s.Message = message
	s.AwaitingFeedback = true
	s.Feedback = ""
}

// BeginRevision opens the feedback gate with the given text.
func (s *Session) BeginRevision(feedback string) error {
	if s.Status != StatusAwaitingFeedback {
		return fmt.Errorf("%w (status %s)", ErrNotAwaitingFeedback, s.Status)
	}
	s.Status = StatusProcessing
	s.Step = StepScriptRevision
	s.Message = "Feedback received, updating script..."
	s.AwaitingFeedback = false
	s.Feedback = feedback
	s.Revisions++
	return nil
}

// Complete records the final video and marks the session finished.
func (s *Session) Complete(videoURI string, publishFailed bool, message string) {
	s.Status = StatusCompleted
	s.Step = StepFinished
	s.Message = message
	s.FinalVideo = videoURI
	s.PublishFailed = publishFailed
	s.AwaitingFeedback = false
	s.Feedback = ""
}

// Fail records a fault and marks the session failed.
func (s *Session) Fail(message string) {
	s.Status = StatusError
	s.Step = StepError
	s.Message = message
	s.Error = message
	s.AwaitingFeedback = false
}

func (s *Session) validate() error {
	if s.AwaitingFeedback != (s.Status == StatusAwaitingFeedback) {
		return fmt.Errorf("inconsistent feedback gate: awaiting_feedback=%t status=%s", s.AwaitingFeedback, s.Status)
	}
	return nil
}

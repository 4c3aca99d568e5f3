package notify

import (
	"github.com/kalambet/adgen/internal/session"
)

// Kind tags an event variant.
type Kind string

const (
	KindStageStarted     Kind = "stage_started"
	KindStageCompleted   Kind = "stage_completed"
	KindAwaitingFeedback Kind = "awaiting_feedback"
	KindCompleted        Kind = "completed"
	KindError            Kind = "error"
)

// Event is pushed to observers of a session. Only the fields relevant to
// Kind are populated; the constructors below are the only way events are built.
type Event struct {
	Kind     Kind            `json:"type"`
	Status   session.Status  `json:"status"`
	Step     session.Step    `json:"step"`
	Message  string          `json:"message"`
	Script   *session.Script `json:"script,omitempty"`
	VideoURL string          `json:"video_url,omitempty"`
	// PublishFailed marks a completed video that could not be published.
	PublishFailed bool `json:"publish_failed,omitempty"`
}

func StageStarted(step session.Step, message string) Event {
	return Event{Kind: KindStageStarted, Status: session.StatusProcessing, Step: step, Message: message}
}

func StageCompleted(step session.Step, message string) Event {
	return Event{Kind: KindStageCompleted, Status: session.StatusProcessing, Step: step, Message: message}
}

func AwaitingFeedback(script *session.Script, message string) Event {
	return Event{
		Kind:    KindAwaitingFeedback,
		Status:  session.StatusAwaitingFeedback,
		Step:    session.StepAwaitingFeedback,
		Message: message,
		Script:  script,
	}
}

func Completed(videoURL string, publishFailed bool, message string) Event {
	return Event{
		Kind:          KindCompleted,
		Status:        session.StatusCompleted,
		Step:          session.StepFinished,
		Message:       message,
		VideoURL:      videoURL,
		PublishFailed: publishFailed,
	}
}

func Failed(message string) Event {
	return Event{Kind: KindError, Status: session.StatusError, Step: session.StepError, Message: message}
}

// Notifier delivers events for a session.
type Notifier interface {
	Notify(sessionID string, ev Event)
}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(sessionID string, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(sessionID, ev)
		}
	}
}

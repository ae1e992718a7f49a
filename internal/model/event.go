package model

import (
	"encoding/json"
	"time"
)

// Source identifies who produced an event.
type Source string

const (
	SourceUser        Source = "user"
	SourceAgent       Source = "agent"
	SourceEnvironment Source = "environment"
)

// KnownSource reports whether s is one of the recognized source values.
func KnownSource(s Source) bool {
	switch s {
	case SourceUser, SourceAgent, SourceEnvironment:
		return true
	}
	return false
}

// Kind discriminates the payload carried by an event.
type Kind string

const (
	KindMessage     Kind = "message"
	KindAction      Kind = "action"
	KindObservation Kind = "observation"
	KindError       Kind = "error"

	// KindUnknown marks a structurally valid event whose kind is not
	// recognized. Unknown events are retained, not dropped, so future
	// event kinds don't silently vanish.
	KindUnknown Kind = "unknown"
)

// MessagePayload is the payload of a chat message event.
type MessagePayload struct {
	Content string `json:"content"`
}

// ActionPayload is the payload of a tool action event.
type ActionPayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ObservationPayload is the payload of a tool observation event.
type ObservationPayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ErrorPayload is the payload of an error event. Events with
// SourceAgent carry agent-level failures; any other source marks a
// conversation-level fatal error.
type ErrorPayload struct {
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail"`
}

// Event is one immutable record in a conversation's append-only log.
// Exactly one payload field is set for known kinds; Raw preserves the
// original frame for unknown kinds.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Kind      Kind      `json:"kind"`

	Message     *MessagePayload     `json:"message,omitempty"`
	Action      *ActionPayload      `json:"action,omitempty"`
	Observation *ObservationPayload `json:"observation,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// IsConversationError reports whether the event is a conversation-level
// fatal error (an error event not attributed to the agent).
func (e *Event) IsConversationError() bool {
	return e.Kind == KindError && e.Source != SourceAgent
}

// IsAgentFailure reports whether the event is an agent-reported failure.
func (e *Event) IsAgentFailure() bool {
	return e.Kind == KindError && e.Source == SourceAgent
}

// ShouldRender reports whether the event carries content the UI renders.
// Unknown kinds are kept in the log but not rendered.
func (e *Event) ShouldRender() bool {
	return e.Kind != KindUnknown
}

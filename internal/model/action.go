package model

import (
	"time"
)

// ActionKind identifies an outbound action's type on the wire.
type ActionKind string

const (
	ActionKindMessage ActionKind = "message"
	ActionKindControl ActionKind = "control"
)

// UserAction is a locally constructed action transmitted to the backend.
// The engine does not interpret the action beyond serializing it; Content
// is recorded as the optimistic pending message for message actions.
type UserAction struct {
	Kind      ActionKind     `json:"kind"`
	Content   string         `json:"content,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessageAction builds a message action for the given text.
func NewMessageAction(content string) UserAction {
	return UserAction{
		Kind:      ActionKindMessage,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

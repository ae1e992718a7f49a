// Package classify maintains the single user-facing error state derived
// from ingested events and connection transitions.
package classify

import (
	"fmt"

	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/pkg/logger"
	"github.com/capitalize-ai/conversation-sync/pkg/metrics"
)

// Origin identifies which layer produced the current error.
type Origin string

const (
	OriginConversation   Origin = "conversation"
	OriginTransport      Origin = "transport"
	OriginAgentHeuristic Origin = "agent-heuristic"
)

// State is the current user-facing error, at most one at a time.
type State struct {
	Message string
	Origin  Origin
}

// ClearPolicy decides whether an ingested non-error event dismisses a
// previously set conversation-level (or heuristic) error. The default
// treats any non-error event as a successful follow-up signal.
type ClearPolicy func(ev *model.Event) bool

// DefaultClearPolicy clears on any non-error event.
func DefaultClearPolicy(ev *model.Event) bool {
	return true
}

// Classifier folds error signals into at most one current State.
// Priority: conversation-level fatal errors override transport errors,
// which override agent heuristics. Clearing happens only on the next
// qualifying signal, never on a timer.
type Classifier struct {
	logger  *logger.Logger
	policy  ClearPolicy
	current *State
}

// New creates a classifier with the default clear policy.
func New(log *logger.Logger) *Classifier {
	return NewWithPolicy(log, DefaultClearPolicy)
}

// NewWithPolicy creates a classifier with a custom clear policy.
func NewWithPolicy(log *logger.Logger, policy ClearPolicy) *Classifier {
	if policy == nil {
		policy = DefaultClearPolicy
	}
	return &Classifier{logger: log, policy: policy}
}

// Current returns the active error state, or nil when none is shown.
func (c *Classifier) Current() *State {
	return c.current
}

// ObserveEvent inspects one ingested event. It returns true when the
// error state changed.
func (c *Classifier) ObserveEvent(ev *model.Event) bool {
	switch {
	case ev.IsConversationError():
		msg := ev.Error.Detail
		if ev.Error.Code != "" {
			msg = fmt.Sprintf("%s: %s", ev.Error.Code, ev.Error.Detail)
		}
		return c.set(State{Message: msg, Origin: OriginConversation})

	case ev.IsAgentFailure():
		friendly, ok := MatchAgentFailure(ev.Error.Detail)
		if !ok {
			// Ordinary recoverable agent condition, not banner-worthy.
			return false
		}
		// Heuristics never override a higher-authority error.
		if c.current != nil && c.current.Origin != OriginAgentHeuristic {
			return false
		}
		return c.set(State{Message: friendly, Origin: OriginAgentHeuristic})

	default:
		// Non-error event: a successful follow-up dismisses a shown
		// conversation error or heuristic banner.
		if c.current == nil || c.current.Origin == OriginTransport {
			return false
		}
		if !c.policy(ev) {
			return false
		}
		return c.clear()
	}
}

// ObserveAbnormalClose records a transport failure. Conversation-level
// errors keep precedence over transport noise.
func (c *Classifier) ObserveAbnormalClose(code int, reason string) bool {
	if c.current != nil && c.current.Origin == OriginConversation {
		return false
	}

	msg := fmt.Sprintf("Connection to the conversation was lost (code %d). Reconnecting…", code)
	if reason != "" {
		msg = fmt.Sprintf("Connection to the conversation was lost: %s. Reconnecting…", reason)
	}
	return c.set(State{Message: msg, Origin: OriginTransport})
}

// ObserveOpen records a successful (re)connection, which dismisses a
// transport error.
func (c *Classifier) ObserveOpen() bool {
	if c.current == nil || c.current.Origin != OriginTransport {
		return false
	}
	return c.clear()
}

// Reset drops any current error, for conversation switches.
func (c *Classifier) Reset() {
	c.current = nil
}

func (c *Classifier) set(s State) bool {
	if c.current != nil && *c.current == s {
		return false
	}
	c.current = &s
	metrics.ErrorsSurfaced.WithLabelValues(string(s.Origin)).Inc()
	c.logger.Warnw("surfacing error", "origin", s.Origin, "message", s.Message)
	return true
}

func (c *Classifier) clear() bool {
	if c.current == nil {
		return false
	}
	c.logger.Infow("clearing error", "origin", c.current.Origin)
	c.current = nil
	return true
}

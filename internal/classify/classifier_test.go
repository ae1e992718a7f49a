package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/pkg/logger"
)

func messageEvent(id string) *model.Event {
	return &model.Event{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Source:    model.SourceAgent,
		Kind:      model.KindMessage,
		Message:   &model.MessagePayload{Content: "ok"},
	}
}

func fatalEvent(id, code, detail string) *model.Event {
	return &model.Event{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Source:    model.SourceEnvironment,
		Kind:      model.KindError,
		Error:     &model.ErrorPayload{Code: code, Detail: detail},
	}
}

func agentFailureEvent(id, detail string) *model.Event {
	return &model.Event{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Source:    model.SourceAgent,
		Kind:      model.KindError,
		Error:     &model.ErrorPayload{Detail: detail},
	}
}

func TestConversationErrorSetAndClearedByFollowUp(t *testing.T) {
	c := New(logger.NewNop())

	require.True(t, c.ObserveEvent(fatalEvent("e1", "STATUS$ERROR", "runtime crashed")))
	st := c.Current()
	require.NotNil(t, st)
	require.Equal(t, OriginConversation, st.Origin)
	require.Contains(t, st.Message, "runtime crashed")

	// The next non-error event silently dismisses the banner.
	require.True(t, c.ObserveEvent(messageEvent("e2")))
	require.Nil(t, c.Current())
}

func TestConversationErrorOverridesTransport(t *testing.T) {
	c := New(logger.NewNop())

	require.True(t, c.ObserveAbnormalClose(1006, ""))
	require.Equal(t, OriginTransport, c.Current().Origin)

	require.True(t, c.ObserveEvent(fatalEvent("e1", "", "fatal")))
	require.Equal(t, OriginConversation, c.Current().Origin)

	// Transport noise must not displace the conversation error.
	require.False(t, c.ObserveAbnormalClose(1006, ""))
	require.Equal(t, OriginConversation, c.Current().Origin)
}

func TestTransportErrorClearedOnOpen(t *testing.T) {
	c := New(logger.NewNop())

	require.True(t, c.ObserveAbnormalClose(1006, "going away"))
	require.Equal(t, OriginTransport, c.Current().Origin)

	// Events arriving do not clear transport errors; only a
	// successful reconnect does.
	require.False(t, c.ObserveEvent(messageEvent("e1")))
	require.NotNil(t, c.Current())

	require.True(t, c.ObserveOpen())
	require.Nil(t, c.Current())
}

func TestOpenWithoutTransportErrorIsNoOp(t *testing.T) {
	c := New(logger.NewNop())

	require.False(t, c.ObserveOpen())

	c.ObserveEvent(fatalEvent("e1", "", "fatal"))
	require.False(t, c.ObserveOpen())
	require.Equal(t, OriginConversation, c.Current().Origin)
}

func TestBudgetHeuristicMapsToFriendlyMessage(t *testing.T) {
	c := New(logger.NewNop())

	raw := "RuntimeError: ExceededBudget: agent exceeded task budget of 2.5 USD"
	require.True(t, c.ObserveEvent(agentFailureEvent("e1", raw)))

	st := c.Current()
	require.NotNil(t, st)
	require.Equal(t, OriginAgentHeuristic, st.Origin)
	require.NotContains(t, st.Message, "RuntimeError")
	require.Contains(t, st.Message, "budget")
}

func TestUnrelatedAgentFailureIsSuppressed(t *testing.T) {
	c := New(logger.NewNop())

	require.False(t, c.ObserveEvent(agentFailureEvent("e1", "permission denied")))
	require.Nil(t, c.Current())
}

func TestHeuristicDoesNotOverrideHigherAuthority(t *testing.T) {
	c := New(logger.NewNop())

	c.ObserveEvent(fatalEvent("e1", "", "fatal"))
	require.False(t, c.ObserveEvent(agentFailureEvent("e2", "out of credit")))
	require.Equal(t, OriginConversation, c.Current().Origin)
}

func TestMatchAgentFailureVocabulary(t *testing.T) {
	_, ok := MatchAgentFailure("Task BUDGET exceeded")
	require.True(t, ok)

	_, ok = MatchAgentFailure("insufficient CREDITS remaining")
	require.True(t, ok)

	_, ok = MatchAgentFailure("file not found")
	require.False(t, ok)
}

func TestCustomClearPolicy(t *testing.T) {
	// Only user messages dismiss the banner under this policy.
	policy := func(ev *model.Event) bool {
		return ev.Source == model.SourceUser && ev.Kind == model.KindMessage
	}
	c := NewWithPolicy(logger.NewNop(), policy)

	c.ObserveEvent(fatalEvent("e1", "", "fatal"))

	require.False(t, c.ObserveEvent(messageEvent("e2")))
	require.NotNil(t, c.Current())

	userMsg := messageEvent("e3")
	userMsg.Source = model.SourceUser
	require.True(t, c.ObserveEvent(userMsg))
	require.Nil(t, c.Current())
}

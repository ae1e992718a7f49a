package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-sync/internal/model"
)

func TestEventSubject(t *testing.T) {
	require.Equal(t, "convsync.conv-1.event.message", EventSubject("conv-1", model.KindMessage))
	require.Equal(t, "convsync.conv-1.event.error", EventSubject("conv-1", model.KindError))
	require.Equal(t, "convsync.conv-1.event.unknown", EventSubject("conv-1", model.KindUnknown))
}

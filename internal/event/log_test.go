package event

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-sync/internal/model"
)

func testEvent(id string) *model.Event {
	return &model.Event{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Source:    model.SourceAgent,
		Kind:      model.KindMessage,
		Message:   &model.MessagePayload{Content: "content for " + id},
	}
}

func TestAppendDedupsById(t *testing.T) {
	log := NewLog()

	require.True(t, log.Append(testEvent("a")))
	require.True(t, log.Append(testEvent("b")))

	// Resending the same id is an idempotent no-op, even many times.
	for i := 0; i < 5; i++ {
		require.False(t, log.Append(testEvent("a")))
	}

	require.Equal(t, 2, log.Len())
	require.True(t, log.Contains("a"))
	require.True(t, log.Contains("b"))
	require.False(t, log.Contains("c"))
}

func TestAppendPreservesFirstArrivalOrder(t *testing.T) {
	log := NewLog()

	log.Append(testEvent("a"))
	log.Append(testEvent("b"))

	// Reconnect resends history in a different order; dedup absorbs it
	// without reordering.
	log.Append(testEvent("b"))
	log.Append(testEvent("a"))
	log.Append(testEvent("c"))

	all := log.All()
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "b", all[1].ID)
	require.Equal(t, "c", all[2].ID)
}

func TestDedupIgnoresPayloadDifferences(t *testing.T) {
	log := NewLog()

	first := testEvent("a")
	log.Append(first)

	changed := testEvent("a")
	changed.Message.Content = "different payload, same id"
	require.False(t, log.Append(changed))

	all := log.All()
	require.Len(t, all, 1)
	require.Equal(t, first.Message.Content, all[0].Message.Content)
}

func TestSnapshotIdentityChangesPerAppend(t *testing.T) {
	log := NewLog()

	log.Append(testEvent("a"))
	before := log.All()

	log.Append(testEvent("b"))
	after := log.All()

	require.Len(t, before, 1)
	require.Len(t, after, 2)

	// A duplicate append does not produce a new snapshot.
	log.Append(testEvent("b"))
	require.Len(t, log.All(), 2)
}

func TestRenderableExcludesUnknownKinds(t *testing.T) {
	log := NewLog()

	log.Append(testEvent("a"))
	log.Append(&model.Event{
		ID:        "u-1",
		Timestamp: time.Now().UTC(),
		Source:    model.SourceEnvironment,
		Kind:      model.KindUnknown,
	})
	log.Append(testEvent("b"))

	require.Equal(t, 3, log.Len())

	renderable := log.Renderable()
	require.Len(t, renderable, 2)
	require.Equal(t, "a", renderable[0].ID)
	require.Equal(t, "b", renderable[1].ID)
}

func TestClearResetsLog(t *testing.T) {
	log := NewLog()

	log.Append(testEvent("a"))
	log.Clear()

	require.Equal(t, 0, log.Len())
	require.False(t, log.Contains("a"))

	// Ids are reusable after a reset.
	require.True(t, log.Append(testEvent("a")))
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	log := NewLog()
	ch := log.Subscribe(4)
	defer log.Unsubscribe(ch)

	log.Append(testEvent("a"))

	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
		require.Equal(t, "a", snap[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSlowSubscriberKeepsNewestSnapshot(t *testing.T) {
	log := NewLog()
	ch := log.Subscribe(1)
	defer log.Unsubscribe(ch)

	for i := 0; i < 10; i++ {
		log.Append(testEvent(fmt.Sprintf("ev-%d", i)))
	}

	var last []*model.Event
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}

	require.Len(t, last, 10)
}

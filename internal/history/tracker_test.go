package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestLoadingDefaultsTrueUntilResolved(t *testing.T) {
	tr := NewTracker()

	require.True(t, tr.Loading())

	// Events arriving before the count resolves don't complete loading.
	tr.RecordReceived(5)
	require.True(t, tr.Loading())
}

func TestZeroBacklogFastPath(t *testing.T) {
	tr := NewTracker()

	tr.SetExpected(0)
	require.False(t, tr.Loading())
}

func TestLoadingCompletesAndLatches(t *testing.T) {
	tr := NewTracker()
	tr.SetExpected(3)

	tr.RecordReceived(1)
	require.True(t, tr.Loading())
	tr.RecordReceived(2)
	require.True(t, tr.Loading())
	tr.RecordReceived(3)
	require.False(t, tr.Loading())

	// A fourth, live event must not flip loading back on.
	tr.RecordReceived(4)
	require.False(t, tr.Loading())
}

func TestLatchSurvivesExpectedCountGrowth(t *testing.T) {
	tr := NewTracker()
	tr.SetExpected(1)
	tr.RecordReceived(1)
	require.False(t, tr.Loading())

	// Even a larger re-resolved count cannot reopen a finished session.
	tr.SetExpected(10)
	require.False(t, tr.Loading())
}

func TestNegativeExpectedTreatedAsZero(t *testing.T) {
	tr := NewTracker()
	tr.SetExpected(-3)
	require.False(t, tr.Loading())
}

func TestResetReturnsToConservativeDefault(t *testing.T) {
	tr := NewTracker()
	tr.SetExpected(0)
	require.False(t, tr.Loading())

	tr.Reset()
	require.True(t, tr.Loading())
}

func TestClientEventCount(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/conversations/{id}/events/count", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "conv-1", chi.URLParam(req, "id"))
		require.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversation_id":"conv-1","count":7}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	count, err := c.EventCount(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, 7, count)
}

func TestClientEventCountErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.EventCount(context.Background(), "missing")
	require.Error(t, err)
}

func TestClientSearchEvents(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/conversations/{id}/events", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "cur-1", req.URL.Query().Get("cursor"))
		require.Equal(t, "2", req.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"events": [
				{"id":"a","timestamp":"2026-03-01T12:00:00Z","source":"user","kind":"message","message":{"content":"hi"}},
				{"id":"b","timestamp":"2026-03-01T12:00:01Z","source":"agent","kind":"message","message":{"content":"hello"}}
			],
			"has_more": true,
			"next_cursor": "cur-2"
		}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL, "")
	page, err := c.SearchEvents(context.Background(), "conv-1", "cur-1", 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.True(t, page.HasMore)
	require.Equal(t, "cur-2", page.NextCursor)
	require.Equal(t, "a", page.Events[0].ID)
}

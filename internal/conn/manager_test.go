package conn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-sync/pkg/logger"
)

// wsTestServer accepts websocket connections and hands them to the test.
type wsTestServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()

	ts := &wsTestServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- c
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *wsTestServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func newTestManager(url string) *Manager {
	return New(Config{
		URL:            url,
		DialTimeout:    2 * time.Second,
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
	}, logger.NewNop())
}

// waitState drains transitions until the wanted state appears.
func waitState(t *testing.T, m *Manager, want State) Transition {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tr, ok := <-m.Transitions():
			if !ok {
				t.Fatalf("transitions closed while waiting for %s", want)
			}
			if tr.State == want {
				return tr
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestConnectAndReceiveFrames(t *testing.T) {
	ts := newWSTestServer(t)
	m := newTestManager(ts.url())
	go m.Run()
	defer m.Shutdown()

	waitState(t, m, StateOpen)
	server := ts.accept(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"id":"a"}`)))

	select {
	case frame := <-m.Frames():
		require.JSONEq(t, `{"id":"a"}`, string(frame))
	case <-time.After(5 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestSendWritesTextFrame(t *testing.T) {
	ts := newWSTestServer(t)
	m := newTestManager(ts.url())
	go m.Run()
	defer m.Shutdown()

	waitState(t, m, StateOpen)
	server := ts.accept(t)

	require.NoError(t, m.Send([]byte(`{"kind":"message","content":"hi"}`)))

	msgType, data, err := server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	require.JSONEq(t, `{"kind":"message","content":"hi"}`, string(data))
}

func TestSendWhileDisconnectedFails(t *testing.T) {
	m := newTestManager("ws://127.0.0.1:1/nowhere")
	require.ErrorIs(t, m.Send([]byte(`x`)), errNotConnected)
}

func TestAbnormalCloseTriggersReconnect(t *testing.T) {
	ts := newWSTestServer(t)
	m := newTestManager(ts.url())
	go m.Run()
	defer m.Shutdown()

	waitState(t, m, StateOpen)
	first := ts.accept(t)

	// Drop the TCP connection without a close handshake.
	require.NoError(t, first.Close())

	tr := waitState(t, m, StateClosed)
	require.NotNil(t, tr.Close)
	require.False(t, tr.Close.Clean())

	// The manager must dial again and reach open on the new connection.
	waitState(t, m, StateOpen)
	second := ts.accept(t)
	require.NotNil(t, second)
}

func TestCleanCloseClassification(t *testing.T) {
	ts := newWSTestServer(t)
	m := newTestManager(ts.url())
	go m.Run()
	defer m.Shutdown()

	waitState(t, m, StateOpen)
	server := ts.accept(t)

	require.NoError(t, server.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second),
	))

	tr := waitState(t, m, StateClosed)
	require.NotNil(t, tr.Close)
	require.True(t, tr.Close.Clean())
	require.Equal(t, websocket.CloseNormalClosure, tr.Close.Code)
}

func TestDialFailureClassifiedAbnormal(t *testing.T) {
	m := newTestManager("ws://127.0.0.1:1/dead")
	go m.Run()
	defer m.Shutdown()

	tr := waitState(t, m, StateClosed)
	require.NotNil(t, tr.Close)
	require.False(t, tr.Close.Clean())

	// The manager keeps cycling back to connecting on its own.
	waitState(t, m, StateConnecting)
}

func TestShutdownIsTerminal(t *testing.T) {
	ts := newWSTestServer(t)
	m := newTestManager(ts.url())
	go m.Run()

	waitState(t, m, StateOpen)
	ts.accept(t)

	m.Shutdown()

	// Channels close once the run loop exits; no further transitions.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-m.Transitions():
			if !ok {
				require.Equal(t, StateClosing, m.State())
				return
			}
		case <-deadline:
			t.Fatal("transitions never closed after shutdown")
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	ts := newWSTestServer(t)
	m := newTestManager(ts.url())
	go m.Run()

	waitState(t, m, StateOpen)
	ts.accept(t)

	m.Shutdown()
	m.Shutdown()
}

// Package conn owns the websocket lifecycle for a conversation: dialing,
// reconnecting with backoff, close classification, and teardown.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/conversation-sync/pkg/logger"
	"github.com/capitalize-ai/conversation-sync/pkg/metrics"
)

// State is the connection lifecycle state.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// AllStates lists every state, for one-hot metrics.
var AllStates = []string{
	string(StateConnecting),
	string(StateOpen),
	string(StateClosing),
	string(StateClosed),
}

var errNotConnected = errors.New("websocket is not connected")

// CloseInfo describes why a connection closed. Code 1000 is a clean,
// intentional close; anything else is abnormal.
type CloseInfo struct {
	Code   int
	Reason string
}

// Clean reports whether the close was intentional.
func (c CloseInfo) Clean() bool {
	return c.Code == websocket.CloseNormalClosure
}

// Transition is one state change notification. Close is set only on
// transitions to StateClosed.
type Transition struct {
	State State
	Close *CloseInfo
}

// Config holds connection settings.
type Config struct {
	URL            string
	Token          string
	DialTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	out.URL = strings.TrimSpace(out.URL)
	out.Token = strings.TrimSpace(out.Token)
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.BackoffInitial <= 0 {
		out.BackoffInitial = 500 * time.Millisecond
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = 30 * time.Second
	}
	return out
}

// Manager owns one conversation's websocket. It dials, reads frames,
// classifies closes, and reconnects with bounded exponential backoff
// until Shutdown. Reconnecting never touches the event log: the backend
// resends full history on every connection and dedup absorbs it.
//
// Frames and state transitions are delivered on channels consumed by a
// single reader; both channels are closed when the manager reaches its
// terminal state.
type Manager struct {
	cfg    Config
	logger *logger.Logger

	frames      chan []byte
	transitions chan Transition

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	terminated bool

	writeMu sync.Mutex

	done chan struct{}
}

// New creates a manager. Run must be called to start connecting.
func New(cfg Config, log *logger.Logger) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:         cfg,
		logger:      log,
		frames:      make(chan []byte, 256),
		transitions: make(chan Transition, 16),
		ctx:         ctx,
		cancel:      cancel,
		state:       StateConnecting,
		done:        make(chan struct{}),
	}
}

// Frames returns the inbound text-frame channel.
func (m *Manager) Frames() <-chan []byte {
	return m.frames
}

// Transitions returns the state-change channel.
func (m *Manager) Transitions() <-chan Transition {
	return m.transitions
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run drives the connect/read/reconnect cycle until Shutdown. It blocks;
// callers start it in a goroutine. Frames and Transitions are closed on
// return.
func (m *Manager) Run() {
	defer close(m.done)
	defer close(m.frames)
	defer close(m.transitions)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BackoffInitial
	bo.MaxInterval = m.cfg.BackoffMax
	bo.MaxElapsedTime = 0 // retry until torn down
	bo.Reset()

	first := true
	for {
		if m.ctx.Err() != nil {
			return
		}
		if !first {
			metrics.ReconnectsTotal.Inc()
		}
		first = false

		m.setState(StateConnecting, nil)

		conn, err := m.dial()
		if err != nil {
			// A failed dial counts as an abnormal close for
			// classification purposes.
			info := &CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
			m.logger.Warnw("dial failed", "url", m.cfg.URL, "error", err)
			metrics.AbnormalCloses.WithLabelValues(strconv.Itoa(info.Code)).Inc()
			m.setState(StateClosed, info)
		} else {
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()

			m.setState(StateOpen, nil)
			bo.Reset()

			info := m.readLoop(conn)

			m.mu.Lock()
			m.conn = nil
			m.mu.Unlock()

			if m.ctx.Err() != nil {
				return
			}
			if !info.Clean() {
				metrics.AbnormalCloses.WithLabelValues(strconv.Itoa(info.Code)).Inc()
			}
			m.setState(StateClosed, &info)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// Send transmits one payload as a text frame on the active connection.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Shutdown tears the manager down: the state becomes terminal, the
// socket detaches, and no further transitions or reconnection attempts
// are made. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.state = StateClosing
	conn := m.conn
	m.mu.Unlock()

	m.cancel()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"),
			time.Now().Add(time.Second),
		)
		m.writeMu.Unlock()
		_ = conn.Close()
	}

	<-m.done
}

func (m *Manager) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.DialTimeout}

	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %q: status %d: %w", m.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %q: %w", m.cfg.URL, err)
	}
	return conn, nil
}

// readLoop pumps frames until the connection drops, then classifies the
// close.
func (m *Manager) readLoop(conn *websocket.Conn) CloseInfo {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return classifyCloseError(err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		select {
		case m.frames <- data:
		case <-m.ctx.Done():
			return CloseInfo{Code: websocket.CloseNormalClosure, Reason: "client shutdown"}
		}
	}
}

func classifyCloseError(err error) CloseInfo {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return CloseInfo{Code: closeErr.Code, Reason: closeErr.Text}
	}
	// Dropped TCP connections and read errors have no close frame.
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

// setState records a transition and notifies the consumer. Nothing is
// emitted once the manager has been torn down.
func (m *Manager) setState(s State, info *CloseInfo) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	metrics.SetConnectionState(string(s), AllStates)

	select {
	case m.transitions <- Transition{State: s, Close: info}:
	case <-m.ctx.Done():
	}
}

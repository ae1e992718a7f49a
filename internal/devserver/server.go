// Package devserver implements a development conversation backend. It
// serves the side-channel REST endpoints and the conversation websocket,
// replaying full history on every connection the way the production
// backend does. Engine and connection tests use it as the mock
// transport; cmd/devbackend runs it standalone.
package devserver

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/pkg/logger"
)

// Options configures the development backend.
type Options struct {
	// JWTSecret enables HS256 bearer auth when non-empty.
	JWTSecret string

	// Rate limiting; zero requests disables it.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Server is the in-memory development backend.
type Server struct {
	opts   Options
	logger *logger.Logger

	mu    sync.Mutex
	convs map[string]*conversation
}

type conversation struct {
	events []model.Event
	subs   map[chan model.Event]struct{}
	conns  map[io.Closer]struct{}
}

// New creates a development backend.
func New(opts Options, log *logger.Logger) *Server {
	return &Server{
		opts:   opts,
		logger: log,
		convs:  make(map[string]*conversation),
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if s.opts.JWTSecret != "" {
			r.Use(Auth(s.opts.JWTSecret))
		}
		if s.opts.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimitRequests, s.opts.RateLimitWindow))
		}

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/events/count", s.handleEventCount)
			r.Get("/events", s.handleEventPage)
			r.Get("/ws", s.handleWS)
		})
	})

	return r
}

// SeedEvents pre-loads history for a conversation without notifying
// live subscribers.
func (s *Server) SeedEvents(conversationID string, events ...model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversationLocked(conversationID)
	conv.events = append(conv.events, events...)
}

// PublishEvent appends a live event and fans it out to connected
// websocket clients.
func (s *Server) PublishEvent(conversationID string, ev model.Event) {
	s.mu.Lock()
	conv := s.conversationLocked(conversationID)
	conv.events = append(conv.events, ev)
	subs := make([]chan model.Event, 0, len(conv.subs))
	for ch := range conv.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warnw("dropping event for slow subscriber", "conversation_id", conversationID, "event_id", ev.ID)
		}
	}
}

// EventCount returns the number of stored events for a conversation.
func (s *Server) EventCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversationLocked(conversationID).events)
}

// snapshotAndSubscribe atomically snapshots history and registers a live
// subscriber, so no event published in between is missed or duplicated.
func (s *Server) snapshotAndSubscribe(conversationID string) ([]model.Event, chan model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversationLocked(conversationID)
	snapshot := make([]model.Event, len(conv.events))
	copy(snapshot, conv.events)

	ch := make(chan model.Event, 64)
	conv.subs[ch] = struct{}{}
	return snapshot, ch
}

func (s *Server) unsubscribe(conversationID string, ch chan model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.convs[conversationID]; ok {
		delete(conv.subs, ch)
	}
}

// DropConnections abruptly closes every websocket attached to a
// conversation without a close handshake, to exercise abnormal-close
// recovery in clients.
func (s *Server) DropConnections(conversationID string) {
	s.mu.Lock()
	conv := s.conversationLocked(conversationID)
	conns := make([]io.Closer, 0, len(conv.conns))
	for c := range conv.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) trackConn(conversationID string, c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationLocked(conversationID).conns[c] = struct{}{}
}

func (s *Server) untrackConn(conversationID string, c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[conversationID]; ok {
		delete(conv.conns, c)
	}
}

func (s *Server) conversationLocked(conversationID string) *conversation {
	conv, ok := s.convs[conversationID]
	if !ok {
		conv = &conversation{
			subs:  make(map[chan model.Event]struct{}),
			conns: make(map[io.Closer]struct{}),
		}
		s.convs[conversationID] = conv
	}
	return conv
}

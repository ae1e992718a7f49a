package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/conversation-sync/internal/model"
)

const defaultPageLimit = 50

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleEventCount(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	writeJSON(w, http.StatusOK, model.EventCountResponse{
		ConversationID: conversationID,
		Count:          s.EventCount(conversationID),
	})
}

// handleEventPage serves one page of history. The cursor is the numeric
// offset of the next event.
func (s *Server) handleEventPage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	offset := 0
	if cur := r.URL.Query().Get("cursor"); cur != "" {
		n, err := strconv.Atoi(cur)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		offset = n
	}

	limit := defaultPageLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	s.mu.Lock()
	all := s.conversationLocked(conversationID).events
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]model.Event, end-offset)
	copy(page, all[offset:end])
	total := len(all)
	s.mu.Unlock()

	resp := model.EventPageResponse{
		Events:  page,
		HasMore: end < total,
	}
	if resp.HasMore {
		resp.NextCursor = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWS upgrades and serves one conversation stream: full history is
// replayed on every connection, then live events follow. Inbound frames
// are user actions; message actions are echoed back into the log as
// user-source message events.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.trackConn(conversationID, conn)
	defer s.untrackConn(conversationID, conn)

	snapshot, live := s.snapshotAndSubscribe(conversationID)
	defer s.unsubscribe(conversationID, live)

	// Reader side: inbound user actions.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleAction(conversationID, data)
		}
	}()

	// Resend-all replay; the client dedups by id.
	for _, ev := range snapshot {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}

	for {
		select {
		case ev := <-live:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleAction(conversationID string, data []byte) {
	var action model.UserAction
	if err := json.Unmarshal(data, &action); err != nil {
		s.logger.Warnw("discarding unparseable action frame", "conversation_id", conversationID, "error", err)
		return
	}

	if action.Kind != model.ActionKindMessage {
		return
	}

	s.PublishEvent(conversationID, model.Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Source:    model.SourceUser,
		Kind:      model.KindMessage,
		Message:   &model.MessagePayload{Content: action.Content},
	})
}

func writeEvent(conn *websocket.Conn, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

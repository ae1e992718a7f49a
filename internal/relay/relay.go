// Package relay fans synchronized conversation events out to NATS
// JetStream for downstream platform consumers. The relay is optional;
// the engine itself never depends on it.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/pkg/logger"
	"github.com/capitalize-ai/conversation-sync/pkg/metrics"
)

const (
	// StreamName is the name of the synchronized-events stream.
	StreamName = "CONV_SYNC"

	// SubjectPrefix is the prefix for all relay subjects.
	SubjectPrefix = "convsync"
)

// Config holds NATS connection configuration.
type Config struct {
	URL   string
	Token string
}

// Relay wraps a NATS connection and JetStream context.
type Relay struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Connect establishes a connection to the NATS server.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnw("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("NATS reconnected")
		}),
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	relay := &Relay{conn: nc, js: js, logger: log}
	if err := relay.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return relay, nil
}

// Close closes the NATS connection.
func (r *Relay) Close() {
	if r.conn != nil {
		r.conn.Close()
	}
}

// EventSubject returns the subject for one event.
func EventSubject(conversationID string, kind model.Kind) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationID, kind)
}

// PublishEvent publishes one synchronized event to JetStream.
func (r *Relay) PublishEvent(ctx context.Context, conversationID string, ev *model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := EventSubject(conversationID, ev.Kind)
	if _, err := r.js.Publish(ctx, subject, data); err != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.RelayPublished.WithLabelValues("ok").Inc()
	return nil
}

// PublishNew publishes every event in the snapshot past the cursor and
// returns the new cursor. Snapshots are append-only, so the cursor is
// simply the count already published.
func (r *Relay) PublishNew(ctx context.Context, conversationID string, snapshot []*model.Event, cursor int) (int, error) {
	for ; cursor < len(snapshot); cursor++ {
		if err := r.PublishEvent(ctx, conversationID, snapshot[cursor]); err != nil {
			return cursor, err
		}
	}
	return cursor, nil
}

func (r *Relay) ensureStream(ctx context.Context) error {
	_, err := r.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = r.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Synchronized conversation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

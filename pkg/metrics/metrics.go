// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested tracks events accepted into the log.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_ingested_total",
			Help: "Events accepted into the event log",
		},
		[]string{"source", "kind"},
	)

	// DuplicateEvents tracks resent event ids absorbed by dedup.
	DuplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_duplicate_events_total",
			Help: "Duplicate event ids absorbed as no-ops",
		},
	)

	// MalformedFrames tracks inbound frames dropped by validation.
	MalformedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_malformed_frames_total",
			Help: "Inbound frames dropped by validation",
		},
		[]string{"reason"},
	)

	// ReconnectsTotal tracks reconnection attempts.
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_reconnects_total",
			Help: "Websocket reconnection attempts",
		},
	)

	// ConnectionState reports the current connection state as a one-hot gauge.
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_connection_state",
			Help: "Current connection state (one-hot per state label)",
		},
		[]string{"state"},
	)

	// AbnormalCloses tracks abnormal websocket closes by close code.
	AbnormalCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_abnormal_closes_total",
			Help: "Abnormal websocket closes",
		},
		[]string{"code"},
	)

	// HistoryBacklog reports events still expected before history is complete.
	HistoryBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_history_backlog",
			Help: "Events still expected before history is considered loaded",
		},
	)

	// ActionsSent tracks outbound actions by kind.
	ActionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_actions_sent_total",
			Help: "Outbound actions transmitted",
		},
		[]string{"kind"},
	)

	// ErrorsSurfaced tracks user-facing errors by origin.
	ErrorsSurfaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_surfaced_total",
			Help: "User-facing errors surfaced by origin",
		},
		[]string{"origin"},
	)

	// RelayPublished tracks events fanned out to NATS.
	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_relay_published_total",
			Help: "Events published to the NATS relay",
		},
		[]string{"status"},
	)
)

// SetConnectionState records the active connection state label.
func SetConnectionState(active string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordIngest records an accepted event.
func RecordIngest(source, kind string) {
	EventsIngested.WithLabelValues(source, kind).Inc()
}

// RecordMalformed records a dropped inbound frame.
func RecordMalformed(reason string) {
	MalformedFrames.WithLabelValues(reason).Inc()
}

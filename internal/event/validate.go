// Package event implements validation and the append-only event log.
package event

import (
	"encoding/json"
	"time"

	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/pkg/logger"
	"github.com/capitalize-ai/conversation-sync/pkg/metrics"
)

// wireEvent is the raw frame shape before validation.
type wireEvent struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Kind      string `json:"kind"`

	Message     *model.MessagePayload     `json:"message"`
	Action      *model.ActionPayload      `json:"action"`
	Observation *model.ObservationPayload `json:"observation"`
	Error       *model.ErrorPayload       `json:"error"`
}

// Validator parses raw inbound frames into validated events. It never
// panics or returns an error; malformed frames yield nil after a
// diagnostic log.
type Validator struct {
	logger *logger.Logger
}

// NewValidator creates a validator.
func NewValidator(log *logger.Logger) *Validator {
	return &Validator{logger: log}
}

// Validate parses one raw frame. It returns nil for any frame that is
// not a structurally valid event: unparseable JSON, empty id, bad
// timestamp, unknown source, or a recognized kind missing its payload.
// Structurally valid frames with an unrecognized kind pass through as
// KindUnknown events with the original frame preserved in Raw.
func (v *Validator) Validate(raw []byte) *model.Event {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		v.drop("parse", raw, err.Error())
		return nil
	}

	if w.ID == "" {
		v.drop("id", raw, "missing or empty id")
		return nil
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		v.drop("timestamp", raw, "unparseable timestamp")
		return nil
	}

	source := model.Source(w.Source)
	if !model.KnownSource(source) {
		v.drop("source", raw, "unknown source")
		return nil
	}

	ev := &model.Event{
		ID:        w.ID,
		Timestamp: ts,
		Source:    source,
	}

	switch model.Kind(w.Kind) {
	case model.KindMessage:
		if w.Message == nil {
			v.drop("payload", raw, "message event without message payload")
			return nil
		}
		ev.Kind = model.KindMessage
		ev.Message = w.Message

	case model.KindAction:
		if w.Action == nil {
			v.drop("payload", raw, "action event without action payload")
			return nil
		}
		ev.Kind = model.KindAction
		ev.Action = w.Action

	case model.KindObservation:
		if w.Observation == nil {
			v.drop("payload", raw, "observation event without observation payload")
			return nil
		}
		ev.Kind = model.KindObservation
		ev.Observation = w.Observation

	case model.KindError:
		if w.Error == nil {
			v.drop("payload", raw, "error event without error payload")
			return nil
		}
		ev.Kind = model.KindError
		ev.Error = w.Error

	default:
		ev.Kind = model.KindUnknown
		ev.Raw = append(json.RawMessage(nil), raw...)
	}

	return ev
}

func (v *Validator) drop(reason string, raw []byte, detail string) {
	metrics.RecordMalformed(reason)
	v.logger.Warnw("dropping malformed frame",
		"reason", reason,
		"detail", detail,
		"bytes", len(raw),
	)
}

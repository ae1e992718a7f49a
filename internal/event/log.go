package event

import (
	"sync"

	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/pkg/metrics"
)

// Log is the ordered, deduplicated, append-only store of validated
// events for one conversation session. Uniqueness is determined by id
// only, never by payload equality: a backend that resends its full
// history on every reconnect may legitimately retransmit byte-identical
// events, and first arrival order wins.
type Log struct {
	mu       sync.RWMutex
	events   []*model.Event
	seen     map[string]struct{}
	snapshot []*model.Event
	subs     map[chan []*model.Event]struct{}
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{
		seen: make(map[string]struct{}),
		subs: make(map[chan []*model.Event]struct{}),
	}
}

// Append adds an event if its id has not been seen. It returns true if
// the event was newly added, false for a duplicate id. Duplicates are
// absorbed silently and counted, never surfaced as errors.
func (l *Log) Append(ev *model.Event) bool {
	l.mu.Lock()
	if _, dup := l.seen[ev.ID]; dup {
		l.mu.Unlock()
		metrics.DuplicateEvents.Inc()
		return false
	}

	l.seen[ev.ID] = struct{}{}
	l.events = append(l.events, ev)
	l.rebuildSnapshot()
	snap := l.snapshot
	l.mu.Unlock()

	metrics.RecordIngest(string(ev.Source), string(ev.Kind))
	l.notify(snap)
	return true
}

// Contains reports whether an event with the given id has been ingested.
func (l *Log) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[id]
	return ok
}

// Len returns the number of distinct events ingested.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// All returns a stable snapshot of the log in arrival order. Each
// mutation produces a new snapshot reference, so consumers can use
// slice identity for change detection.
func (l *Log) All() []*model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Renderable returns the events the UI should render, in arrival order.
func (l *Log) Renderable() []*model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*model.Event, 0, len(l.events))
	for _, ev := range l.events {
		if ev.ShouldRender() {
			out = append(out, ev)
		}
	}
	return out
}

// Clear resets the log for a new conversation session.
func (l *Log) Clear() {
	l.mu.Lock()
	l.events = nil
	l.seen = make(map[string]struct{})
	l.rebuildSnapshot()
	snap := l.snapshot
	l.mu.Unlock()

	l.notify(snap)
}

// Subscribe registers a channel that receives the new snapshot after
// every mutation. The channel is buffered; if a subscriber lags, the
// oldest undelivered snapshot is replaced by the newest.
func (l *Log) Subscribe(buffer int) chan []*model.Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []*model.Event, buffer)

	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

// Unsubscribe removes a previously registered channel.
func (l *Log) Unsubscribe(ch chan []*model.Event) {
	l.mu.Lock()
	delete(l.subs, ch)
	l.mu.Unlock()
}

func (l *Log) rebuildSnapshot() {
	snap := make([]*model.Event, len(l.events))
	copy(snap, l.events)
	l.snapshot = snap
}

func (l *Log) notify(snap []*model.Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for ch := range l.subs {
		select {
		case ch <- snap:
		default:
			// Slow subscriber: keep only the newest snapshot.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

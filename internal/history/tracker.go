// Package history tracks whether a conversation's backlog is still
// loading and provides the REST side channel that seeds it.
package history

import (
	"sync"

	"github.com/capitalize-ai/conversation-sync/pkg/metrics"
)

// Tracker compares the externally fetched expected event count with the
// number of events actually ingested. Until the expected count resolves
// it conservatively reports loading. Once loading finishes it is
// latched: later live events never flip it back.
type Tracker struct {
	mu       sync.RWMutex
	expected int
	resolved bool
	received int
	done     bool
}

// NewTracker creates a tracker that reports loading until the expected
// count is resolved.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetExpected records the backlog size fetched over the side channel.
// An expected count of zero completes immediately; there is no socket
// message to wait for.
func (t *Tracker) SetExpected(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if count < 0 {
		count = 0
	}
	t.expected = count
	t.resolved = true
	t.recompute()
}

// RecordReceived records the current number of distinct ingested events.
func (t *Tracker) RecordReceived(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.received = count
	t.recompute()
}

// Loading reports whether historical backlog is still being received.
func (t *Tracker) Loading() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.done {
		return false
	}
	if !t.resolved {
		return true
	}
	return t.received < t.expected
}

// Reset prepares the tracker for a new conversation session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expected = 0
	t.resolved = false
	t.received = 0
	t.done = false
	metrics.HistoryBacklog.Set(0)
}

func (t *Tracker) recompute() {
	backlog := t.expected - t.received
	if backlog < 0 || t.done {
		backlog = 0
	}
	metrics.HistoryBacklog.Set(float64(backlog))

	if t.resolved && t.received >= t.expected {
		t.done = true
	}
}

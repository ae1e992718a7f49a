// Package engine wires the conversation sync engine together: one run
// loop ingests socket frames and connection transitions, and every
// mutation of the event log, error state, history flag, and pending
// optimistic message happens inside that loop.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/capitalize-ai/conversation-sync/internal/classify"
	"github.com/capitalize-ai/conversation-sync/internal/conn"
	"github.com/capitalize-ai/conversation-sync/internal/event"
	"github.com/capitalize-ai/conversation-sync/internal/history"
	"github.com/capitalize-ai/conversation-sync/internal/model"
	"github.com/capitalize-ai/conversation-sync/pkg/logger"
	"github.com/capitalize-ai/conversation-sync/pkg/metrics"
)

// UpdateKind identifies which facet of engine state changed.
type UpdateKind string

const (
	UpdateEvents     UpdateKind = "events"
	UpdateConnection UpdateKind = "connection"
	UpdateError      UpdateKind = "error"
	UpdateHistory    UpdateKind = "history"
	UpdatePending    UpdateKind = "pending"
)

// Update is one change notification delivered to subscribers. Consumers
// read current state through the engine's accessors.
type Update struct {
	Kind UpdateKind
}

// Config configures an engine for one conversation session.
type Config struct {
	ConversationID string

	// WSURL is the full websocket URL for the conversation stream.
	WSURL string
	// APIBaseURL is the REST side-channel base (e.g. http://host/api/v1).
	APIBaseURL string
	Token      string

	Conn conn.Config // URL/Token filled from the fields above if empty

	// PrepopulateHistory pages historical events over REST before the
	// socket catches up. The shared id dedup prevents double counting.
	PrepopulateHistory bool

	// ClearPolicy overrides when a non-error event dismisses a shown
	// conversation error. Nil means any non-error event clears.
	ClearPolicy classify.ClearPolicy
}

// Engine owns all sync state for one conversation. Create one per
// conversation session; switching conversations means stopping this
// engine and starting a new one.
type Engine struct {
	cfg    Config
	logger *logger.Logger

	log         *event.Log
	validator   *event.Validator
	manager     *conn.Manager
	tracker     *history.Tracker
	classifier  *classify.Classifier
	sideChannel *history.Client

	cmds chan any

	mu        sync.RWMutex
	pending   *string
	errState  *classify.State
	connState conn.State
	subs      map[chan Update]struct{}

	cancel  context.CancelFunc
	stopped chan struct{}
}

type expectedCountCmd struct{ count int }
type seedEventsCmd struct{ events []model.Event }
type sendCmd struct {
	payload []byte
	kind    model.ActionKind
}
type clearPendingCmd struct{}
type resetCmd struct{}

// New creates an engine. Start must be called before it does anything.
func New(cfg Config, log *logger.Logger) *Engine {
	if cfg.Conn.URL == "" {
		cfg.Conn.URL = cfg.WSURL
	}
	if cfg.Conn.Token == "" {
		cfg.Conn.Token = cfg.Token
	}

	scoped := log.WithConversation(cfg.ConversationID)

	return &Engine{
		cfg:         cfg,
		logger:      scoped,
		log:         event.NewLog(),
		validator:   event.NewValidator(scoped),
		manager:     conn.New(cfg.Conn, scoped),
		tracker:     history.NewTracker(),
		classifier:  classify.NewWithPolicy(scoped, cfg.ClearPolicy),
		sideChannel: history.NewClient(cfg.APIBaseURL, cfg.Token),
		cmds:        make(chan any, 64),
		connState:   conn.StateConnecting,
		subs:        make(map[chan Update]struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start begins connecting and ingesting. The engine runs until Stop or
// until ctx is canceled.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	go e.manager.Run()
	go e.fetchExpectedCount(ctx)
	if e.cfg.PrepopulateHistory {
		go e.prepopulate(ctx)
	}
	go e.run(ctx)
}

// Stop tears the engine down: reconnection stops synchronously and no
// callback mutates state afterwards.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.manager.Shutdown()
	<-e.stopped
}

// Events returns the current ordered event snapshot.
func (e *Engine) Events() []*model.Event {
	return e.log.All()
}

// RenderableEvents returns the events the UI should render.
func (e *Engine) RenderableEvents() []*model.Event {
	return e.log.Renderable()
}

// ConnectionState returns the current connection state.
func (e *Engine) ConnectionState() conn.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connState
}

// ErrorState returns the current user-facing error, or nil.
func (e *Engine) ErrorState() *classify.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.errState
}

// LoadingHistory reports whether historical backlog is still loading.
func (e *Engine) LoadingHistory() bool {
	return e.tracker.Loading()
}

// Pending returns the optimistic pending message, if any.
func (e *Engine) Pending() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pending == nil {
		return "", false
	}
	return *e.pending, true
}

// SetPending records an optimistic pending message directly, for
// callers that transmit through their own path.
func (e *Engine) SetPending(text string) {
	e.setPending(text)
}

// ClearPending explicitly drops the optimistic message, for callers
// handling send timeouts themselves.
func (e *Engine) ClearPending() {
	e.enqueue(clearPendingCmd{})
}

// Reset clears the event log and derived state for an explicit session
// reset. The connection is left alone.
func (e *Engine) Reset() {
	e.enqueue(resetCmd{})
}

// Send serializes an action and transmits it on the socket. For message
// actions the text becomes the optimistic pending message immediately,
// before any round trip. Failures are not returned: they surface
// through the error-state subscription like every other failure.
func (e *Engine) Send(action model.UserAction) {
	payload, err := json.Marshal(action)
	if err != nil {
		e.logger.Errorw("failed to serialize action", "error", err)
		return
	}

	if action.Kind == model.ActionKindMessage {
		e.setPending(action.Content)
	}

	e.enqueue(sendCmd{payload: payload, kind: action.Kind})
}

// Subscribe registers a channel that receives an Update after every
// state change. A slow subscriber keeps only the newest notification.
func (e *Engine) Subscribe(buffer int) chan Update {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes a previously registered channel.
func (e *Engine) Unsubscribe(ch chan Update) {
	e.mu.Lock()
	delete(e.subs, ch)
	e.mu.Unlock()
}

// run is the single loop in which all state mutation happens.
func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)

	frames := e.manager.Frames()
	transitions := e.manager.Transitions()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				return
			}
			e.ingestFrame(frame)

		case tr, ok := <-transitions:
			if !ok {
				return
			}
			e.handleTransition(tr)

		case cmd := <-e.cmds:
			e.handleCommand(cmd)
		}
	}
}

// ingestFrame validates and appends one raw frame, then derives every
// downstream signal exactly once per newly ingested event. Duplicates
// produce no signals at all.
func (e *Engine) ingestFrame(frame []byte) {
	ev := e.validator.Validate(frame)
	if ev == nil {
		return
	}
	e.ingestEvent(ev)
}

func (e *Engine) ingestEvent(ev *model.Event) {
	if !e.log.Append(ev) {
		return
	}
	e.notify(UpdateEvents)

	wasLoading := e.tracker.Loading()
	e.tracker.RecordReceived(e.log.Len())
	if wasLoading != e.tracker.Loading() {
		e.notify(UpdateHistory)
	}

	if e.classifier.ObserveEvent(ev) {
		e.publishErrorState()
	}

	e.reconcilePending(ev)
}

// reconcilePending clears the optimistic message once its authoritative
// echo arrives: the first user-source message event ingested after the
// pending value was set.
func (e *Engine) reconcilePending(ev *model.Event) {
	if ev.Source != model.SourceUser || ev.Kind != model.KindMessage {
		return
	}

	e.mu.Lock()
	had := e.pending != nil
	e.pending = nil
	e.mu.Unlock()

	if had {
		e.notify(UpdatePending)
	}
}

func (e *Engine) handleTransition(tr conn.Transition) {
	e.mu.Lock()
	e.connState = tr.State
	e.mu.Unlock()
	e.notify(UpdateConnection)

	switch tr.State {
	case conn.StateOpen:
		e.logger.Infow("connection open")
		if e.classifier.ObserveOpen() {
			e.publishErrorState()
		}

	case conn.StateClosed:
		if tr.Close == nil || tr.Close.Clean() {
			e.logger.Infow("connection closed cleanly")
			return
		}
		e.logger.Warnw("connection closed abnormally",
			"code", tr.Close.Code,
			"reason", tr.Close.Reason,
		)
		if e.classifier.ObserveAbnormalClose(tr.Close.Code, tr.Close.Reason) {
			e.publishErrorState()
		}
	}
}

func (e *Engine) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case expectedCountCmd:
		wasLoading := e.tracker.Loading()
		e.tracker.SetExpected(c.count)
		e.tracker.RecordReceived(e.log.Len())
		if wasLoading != e.tracker.Loading() {
			e.notify(UpdateHistory)
		}

	case seedEventsCmd:
		for i := range c.events {
			ev := c.events[i]
			if ev.ID == "" {
				continue
			}
			e.ingestEvent(&ev)
		}

	case sendCmd:
		if err := e.manager.Send(c.payload); err != nil {
			// The broken socket also fails the read loop, so the
			// transport error surfaces through the close transition.
			e.logger.Warnw("failed to send action", "error", err)
			return
		}
		metrics.ActionsSent.WithLabelValues(string(c.kind)).Inc()

	case clearPendingCmd:
		e.mu.Lock()
		had := e.pending != nil
		e.pending = nil
		e.mu.Unlock()
		if had {
			e.notify(UpdatePending)
		}

	case resetCmd:
		e.log.Clear()
		e.tracker.Reset()
		e.classifier.Reset()
		e.publishErrorState()
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
		e.notify(UpdateEvents)
		e.notify(UpdateHistory)
		e.notify(UpdatePending)

	default:
		e.logger.Errorw("unknown command", "command", fmt.Sprintf("%T", cmd))
	}
}

// fetchExpectedCount resolves the backlog size over the side channel,
// retrying with backoff; the tracker conservatively reports loading
// until it succeeds.
func (e *Engine) fetchExpectedCount(ctx context.Context) {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	var count int
	op := func() error {
		var err error
		count, err = e.sideChannel.EventCount(ctx, e.cfg.ConversationID)
		return err
	}

	if err := backoff.Retry(op, bo); err != nil {
		e.logger.Warnw("expected event count unavailable", "error", err)
		return
	}

	e.logger.Infow("resolved expected event count", "count", count)
	e.enqueueCtx(ctx, expectedCountCmd{count: count})
}

// prepopulate pages historical events over REST so the UI can render
// before the socket replay completes. Dedup absorbs the overlap.
func (e *Engine) prepopulate(ctx context.Context) {
	cursor := ""
	for {
		page, err := e.sideChannel.SearchEvents(ctx, e.cfg.ConversationID, cursor, 0)
		if err != nil {
			e.logger.Warnw("history prepopulation failed", "error", err)
			return
		}

		if len(page.Events) > 0 {
			e.enqueueCtx(ctx, seedEventsCmd{events: page.Events})
		}
		if !page.HasMore {
			return
		}
		cursor = page.NextCursor
	}
}

func (e *Engine) setPending(text string) {
	e.mu.Lock()
	e.pending = &text
	e.mu.Unlock()
	e.notify(UpdatePending)
}

func (e *Engine) publishErrorState() {
	e.mu.Lock()
	e.errState = e.classifier.Current()
	e.mu.Unlock()
	e.notify(UpdateError)
}

func (e *Engine) enqueue(cmd any) {
	select {
	case e.cmds <- cmd:
	case <-e.stopped:
	}
}

func (e *Engine) enqueueCtx(ctx context.Context, cmd any) {
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
	}
}

func (e *Engine) notify(kind UpdateKind) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for ch := range e.subs {
		select {
		case ch <- Update{Kind: kind}:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- Update{Kind: kind}:
			default:
			}
		}
	}
}

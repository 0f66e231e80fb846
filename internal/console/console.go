// Package console is the agent console's call session controller: it owns the session state
// and opens and closes the real-time feeds as calls are selected.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agent-console-go/internal/feed"
	"agent-console-go/internal/logger"
	"agent-console-go/internal/metrics"
	"agent-console-go/internal/session"
	"agent-console-go/internal/types"
)

var (
	ErrNoCall          = errors.New("no call selected")
	ErrEmptyCallID     = errors.New("call id is required")
	ErrInvalidSchedule = errors.New("schedule time must be RFC3339")
	ErrNotStarted      = errors.New("console has not been started")
)

const exportQueueSize = 16

// QueueOpener opens the queue-level feed.
type QueueOpener interface {
	Open(ctx context.Context) *feed.Subscription
}

// CallOpener opens the feed of one call.
type CallOpener interface {
	Open(ctx context.Context, callID string) *feed.Subscription
}

// Exporter persists the session of a call that has ended.
type Exporter interface {
	Export(st session.State) error
}

type Options struct {
	Log *logger.Logger
	// Exporter is optional; without it ended calls are not exported.
	Exporter Exporter
}

// Console composes the store, both feeds and the exporter. Build it with New, call Start once
// and Close when the console goes away.
type Console struct {
	store     *Store
	queueFeed QueueOpener
	callFeed  CallOpener
	exporter  Exporter
	log       *logger.Logger

	// mu serializes selection changes with the feed subscriptions they own.
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	queueSub *feed.Subscription
	callSub  *feed.Subscription
	started  bool
	closed   bool

	exports    chan session.State
	exportDone chan struct{}
}

// New wires a console around store. The store's transition hook is installed here, so the
// store must not have been started.
func New(store *Store, queue QueueOpener, call CallOpener, opts Options) *Console {
	if opts.Log == nil {
		opts.Log = logger.New()
	}
	c := &Console{
		store:      store,
		queueFeed:  queue,
		callFeed:   call,
		exporter:   opts.Exporter,
		log:        opts.Log.Component("console"),
		exports:    make(chan session.State, exportQueueSize),
		exportDone: make(chan struct{}),
	}
	store.onTransition = c.transitioned
	return c
}

// Start runs the dispatch loop and opens the queue feed.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	go c.store.Run(c.ctx)
	go c.exportLoop()
	c.queueSub = c.queueFeed.Open(c.ctx)
	c.log.Info("console started")
	return nil
}

// Close tears down the call feed, the queue feed, the timer and the dispatch loop, in that
// order. Safe to call more than once.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if !c.started {
		return
	}
	c.closeCallFeed()
	if c.queueSub != nil {
		c.queueSub.Close()
		c.queueSub = nil
	}
	c.cancel()
	<-c.store.Done()
	close(c.exports)
	<-c.exportDone
	c.log.Info("console closed")
}

// State returns a copy of the current state.
func (c *Console) State() session.State {
	return c.store.State()
}

// Subscribe follows state changes; see Store.Subscribe.
func (c *Console) Subscribe() (<-chan session.State, func()) {
	return c.store.Subscribe()
}

// SelectCall starts a session for id. The feed of the previous call is closed before the new
// session begins, so no line from the old call can reach it.
func (c *Console) SelectCall(id string) error {
	if id == "" {
		return ErrEmptyCallID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}

	c.closeCallFeed()
	if err := c.store.Dispatch(session.SelectCall{CallID: id}); err != nil {
		return err
	}
	c.callSub = c.callFeed.Open(c.ctx, id)
	c.log.WithField("call_id", id).Info("call selected")
	return nil
}

// Answer marks the selected call active regardless of the feed.
func (c *Console) Answer() error {
	return c.force(types.StatusActive)
}

// End marks the selected call ended.
func (c *Console) End() error {
	return c.force(types.StatusEnded)
}

// Transfer marks the selected call as transferring. Contacting the agent is the telephony
// backend's job; the request is only logged here.
func (c *Console) Transfer(agentID string) error {
	if err := c.force(types.StatusTransferring); err != nil {
		return err
	}
	callID, _ := c.store.Status()
	c.log.WithField("call_id", callID).WithField("agent_id", agentID).Info("transfer requested")
	return nil
}

// Schedule records the intent to call back at whenISO. State is not touched.
func (c *Console) Schedule(whenISO string) error {
	when, err := time.Parse(time.RFC3339, whenISO)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	callID, _ := c.store.Status()
	c.log.WithField("call_id", callID).WithField("when", when.Format(time.RFC3339)).Info("callback scheduling requested")
	return nil
}

// Reset drops the selected call and closes its feed.
func (c *Console) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	c.closeCallFeed()
	return c.store.Dispatch(session.ResetCall{})
}

func (c *Console) force(status types.CallStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	callID, _ := c.store.Status()
	if callID == "" {
		return ErrNoCall
	}
	return c.store.Dispatch(session.SetStatus{CallID: callID, Status: status})
}

func (c *Console) ready() error {
	switch {
	case c.closed:
		return ErrClosed
	case !c.started:
		return ErrNotStarted
	}
	return nil
}

// closeCallFeed must be called with mu held.
func (c *Console) closeCallFeed() {
	if c.callSub != nil {
		c.callSub.Close()
		c.callSub = nil
	}
}

// transitioned runs on the dispatch goroutine.
func (c *Console) transitioned(prev, next session.State) {
	if c.exporter == nil || next.Status != types.StatusEnded || next.CallID == "" {
		return
	}
	select {
	case c.exports <- next.Clone():
	default:
		metrics.ExportsTotal.WithLabelValues("dropped").Inc()
		c.log.WithField("call_id", next.CallID).Warn("export queue full, transcript not exported")
	}
}

func (c *Console) exportLoop() {
	defer close(c.exportDone)
	for st := range c.exports {
		log := c.log.WithField("call_id", st.CallID)
		if err := c.exporter.Export(st); err != nil {
			metrics.ExportsTotal.WithLabelValues("error").Inc()
			log.WithError(err).Error("transcript export failed")
			continue
		}
		metrics.ExportsTotal.WithLabelValues("ok").Inc()
		log.WithField("lines", len(st.Transcript)).Info("transcript exported")
	}
}

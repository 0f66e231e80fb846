package console

import (
	"context"
	"errors"
	"sync"

	"agent-console-go/internal/logger"
	"agent-console-go/internal/metrics"
	"agent-console-go/internal/session"
	"agent-console-go/internal/timer"
	"agent-console-go/internal/types"
)

var ErrClosed = errors.New("console is closed")

type request struct {
	action session.Action
	reply  chan error
}

// TransitionFunc observes every applied action that changed the call status. It runs on the
// dispatch goroutine and must not call Dispatch.
type TransitionFunc func(prev, next session.State)

// Store owns the session state. Actions from every source are applied one at a time by a
// single goroutine, in arrival order; the session ticker is served by the same goroutine.
type Store struct {
	log     *logger.Logger
	actions chan request
	timer   *timer.Session
	done    chan struct{}
	once    sync.Once

	mu    sync.RWMutex
	state session.State

	subsMu     sync.Mutex
	subs       map[int]chan session.State
	nextSub    int
	subsClosed bool

	onTransition TransitionFunc
}

type StoreOptions struct {
	Log *logger.Logger
	// Ticker defaults to timer.NewRealTicker.
	Ticker       timer.Factory
	OnTransition TransitionFunc
}

func NewStore(opts StoreOptions) *Store {
	if opts.Log == nil {
		opts.Log = logger.New()
	}
	return &Store{
		log:          opts.Log.Component("console.store"),
		actions:      make(chan request),
		timer:        timer.New(opts.Ticker),
		done:         make(chan struct{}),
		state:        session.Initial(),
		subs:         map[int]chan session.State{},
		onTransition: opts.OnTransition,
	}
}

// Run applies actions until ctx is cancelled. It may be called once.
func (s *Store) Run(ctx context.Context) {
	s.once.Do(func() {
		s.loop(ctx)
	})
}

func (s *Store) loop(ctx context.Context) {
	defer func() {
		s.timer.Stop()
		s.closeSubscribers()
		close(s.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.actions:
			req.reply <- s.apply(req.action)
		case <-s.timer.C():
			_ = s.apply(session.Tick{})
		}
	}
}

// Done is closed once the dispatch loop has exited.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Dispatch queues a and blocks until it has been applied. It returns the reducer's error,
// or ErrClosed once the loop has stopped.
func (s *Store) Dispatch(a session.Action) error {
	req := request{action: a, reply: make(chan error, 1)}
	select {
	case s.actions <- req:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Store) apply(a session.Action) error {
	prev := s.state
	next, err := session.Reduce(prev, a)
	if err != nil {
		s.rejected(a, err)
		return err
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	if s.timer.Sync(next.Status) {
		s.log.WithField("running", s.timer.Running()).Debug("session timer toggled")
	}
	s.publish(next)
	if s.onTransition != nil && prev.Status != next.Status {
		s.onTransition(prev, next)
	}
	return nil
}

func (s *Store) rejected(a session.Action, err error) {
	entry := s.log.WithError(err).WithField("action", a.Name())
	switch {
	case errors.Is(err, session.ErrIllegalTransition):
		metrics.TransitionsRejectedTotal.Inc()
		entry.Warn("rejected status transition")
	case errors.Is(err, session.ErrStaleCall):
		metrics.StaleActionsTotal.Inc()
		entry.Debug("dropped action for a call no longer selected")
	default:
		entry.Warn("action rejected")
	}
}

// State returns a deep copy of the current state.
func (s *Store) State() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Status is a cheap read of the current call id and status.
func (s *Store) Status() (string, types.CallStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.CallID, s.state.Status
}

// Subscribe returns a channel carrying the latest state after every applied action. Slow
// readers only see the newest snapshot. The channel is closed by cancel or when the store
// stops.
func (s *Store) Subscribe() (<-chan session.State, func()) {
	ch := make(chan session.State, 1)

	// the first snapshot is taken under subsMu so no publish can fall between it and
	// registration
	s.subsMu.Lock()
	ch <- s.State()
	if s.subsClosed {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) publish(st session.State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		snapshot := st.Clone()
		select {
		case ch <- snapshot:
		default:
			// replace the unread snapshot with the newer one
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

func (s *Store) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subsClosed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

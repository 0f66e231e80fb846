// Package feed subscribes to the queue-level and per-call real-time feeds and turns their
// messages into session actions.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"agent-console-go/internal/logger"
	"agent-console-go/internal/metrics"
	"agent-console-go/internal/session"
	"agent-console-go/internal/types"
)

const handshakeTimeout = 10 * time.Second

// Dispatcher applies actions to the session state.
type Dispatcher interface {
	Dispatch(a session.Action) error
}

// Backoff is the reconnect policy. MaxElapsed of zero retries forever.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

var DefaultBackoff = Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}

func (b Backoff) policy() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if b.Initial > 0 {
		bo.InitialInterval = b.Initial
	}
	if b.Max > 0 {
		bo.MaxInterval = b.Max
	}
	bo.MaxElapsedTime = b.MaxElapsed
	bo.Reset()
	return bo
}

// stream is one long-lived subscription. Its callbacks all run on the subscription goroutine.
type stream struct {
	name     types.FeedName
	url      string
	dialer   *websocket.Dialer
	backoff  Backoff
	log      *logger.Logger
	dispatch Dispatcher

	// reconnectOnClose decides whether a normal close by the server is retried.
	reconnectOnClose bool

	onOpen    func()
	onMessage func(payload []byte)
}

// Subscription is a handle on a running feed.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops the feed, closes its connection and waits for the goroutine to exit.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Done is closed once the feed goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (st *stream) open(ctx context.Context) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		st.run(ctx)
	}()
	return sub
}

var errClosedByServer = errors.New("feed closed by server")

func (st *stream) run(ctx context.Context) {
	bo := st.backoff.policy()
	st.health(types.FeedConnecting)

	op := func() error {
		conn, _, err := st.dialer.DialContext(ctx, st.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("dial %s: %w", st.url, err)
		}
		// a connection that came up starts the next outage from the initial interval
		bo.Reset()
		st.health(types.FeedOpen)
		st.log.Info("feed connected")

		err = st.read(ctx, conn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, errClosedByServer) && !st.reconnectOnClose {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.FeedReconnectsTotal.WithLabelValues(string(st.name)).Inc()
		st.log.WithError(err).WithField("retry_in_ms", wait.Milliseconds()).Warn("feed connection lost")
		st.health(types.FeedReconnecting)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, errClosedByServer):
		st.log.Info("feed closed by server")
	default:
		st.log.WithError(err).Error("feed stopped reconnecting")
	}
	st.health(types.FeedClosed)
}

// read pumps frames until the connection fails or ctx is cancelled. The connection is
// closed exactly once on the way out.
func (st *stream) read(ctx context.Context, conn *websocket.Conn) error {
	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(500*time.Millisecond))
			_ = conn.Close()
		})
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		closeConn()
	}()

	if st.onOpen != nil {
		st.onOpen()
	}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClosedByServer
			}
			return fmt.Errorf("read websocket message: %w", err)
		}
		metrics.FeedMessagesTotal.WithLabelValues(string(st.name)).Inc()
		st.onMessage(payload)
	}
}

func (st *stream) health(h types.FeedHealth) {
	if err := st.dispatch.Dispatch(session.SetFeedHealth{Feed: st.name, Health: h}); err != nil {
		st.log.WithError(err).Debug("feed health not recorded")
	}
}

func malformed(name types.FeedName) {
	metrics.FeedMalformedTotal.WithLabelValues(string(name)).Inc()
}

func dialerOrDefault(d *websocket.Dialer) *websocket.Dialer {
	if d != nil {
		return d
	}
	return &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
}

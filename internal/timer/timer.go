// Package timer arms a one-second ticker while a call is active.
//
// A Session is owned by a single goroutine (the console dispatch loop) and is not safe for
// concurrent use.
package timer

import (
	"time"

	"agent-console-go/internal/types"
)

const Interval = time.Second

// Ticker is the subset of time.Ticker the session needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Factory creates a ticker firing every d.
type Factory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker is the Factory backed by time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type Session struct {
	factory Factory
	ticker  Ticker
}

func New(factory Factory) *Session {
	if factory == nil {
		factory = NewRealTicker
	}
	return &Session{factory: factory}
}

// Sync arms the ticker when status is active and tears it down otherwise.
// It reports whether the ticker was started or stopped.
func (s *Session) Sync(status types.CallStatus) bool {
	switch {
	case status == types.StatusActive && s.ticker == nil:
		s.ticker = s.factory(Interval)
		return true
	case status != types.StatusActive && s.ticker != nil:
		s.Stop()
		return true
	}
	return false
}

// C returns the tick channel, or nil while disarmed. Receiving from nil blocks forever,
// which keeps a select loop quiet.
func (s *Session) C() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C()
}

func (s *Session) Running() bool {
	return s.ticker != nil
}

// Stop disarms the ticker. Safe to call repeatedly.
func (s *Session) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

package session

import "agent-console-go/internal/types"

// Action is a request to change State. Reduce ignores implementations it does not know.
type Action interface {
	Name() string
}

// SetQueue replaces the queue wholesale.
type SetQueue struct {
	Items []types.QueueItem
}

// SelectCall starts a fresh session for CallID.
type SelectCall struct {
	CallID string
}

// SetStatus moves the session to Status. CallID names the call the update is about;
// empty means the current call.
type SetStatus struct {
	CallID string
	Status types.CallStatus
}

// Tick adds one second while the call is active.
type Tick struct{}

// PushLine appends a transcript line. CallID follows the SetStatus rules.
type PushLine struct {
	CallID string
	Line   types.TranscriptLine
}

// ResetCall drops the selected call.
type ResetCall struct{}

// SetFeedHealth records the connection state of one feed.
type SetFeedHealth struct {
	Feed   types.FeedName
	Health types.FeedHealth
}

func (SetQueue) Name() string      { return "set_queue" }
func (SelectCall) Name() string    { return "select_call" }
func (SetStatus) Name() string     { return "set_status" }
func (Tick) Name() string          { return "tick" }
func (PushLine) Name() string      { return "push_line" }
func (ResetCall) Name() string     { return "reset_call" }
func (SetFeedHealth) Name() string { return "set_feed_health" }

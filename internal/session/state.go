// Package session holds the call-session state and the pure reducer that evolves it.
package session

import "agent-console-go/internal/types"

// State is everything the agent console shows: the selected call and the queue.
// An empty CallID means no call is selected.
type State struct {
	CallID     string                 `json:"callId"`
	Status     types.CallStatus       `json:"status"`
	Seconds    int                    `json:"seconds"`
	Transcript []types.TranscriptLine `json:"transcript"`
	Queue      []types.QueueItem      `json:"queue"`
	QueueFeed  types.FeedHealth       `json:"queueFeed"`
	CallFeed   types.FeedHealth       `json:"callFeed"`
}

// Initial returns the state of a freshly opened console.
func Initial() State {
	return State{
		Status:     types.StatusIdle,
		Transcript: []types.TranscriptLine{},
		Queue:      []types.QueueItem{},
		QueueFeed:  types.FeedClosed,
		CallFeed:   types.FeedClosed,
	}
}

// Clone returns a deep copy that shares no slices with s.
func (s State) Clone() State {
	out := s
	out.Transcript = append(make([]types.TranscriptLine, 0, len(s.Transcript)), s.Transcript...)
	out.Queue = append(make([]types.QueueItem, 0, len(s.Queue)), s.Queue...)
	return out
}

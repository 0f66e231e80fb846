package session

import "agent-console-go/internal/types"

// Reduce applies a to s and returns the next state. It never mutates s. When it returns an
// error the returned state equals s.
func Reduce(s State, a Action) (State, error) {
	switch a := a.(type) {
	case SetQueue:
		s.Queue = append(make([]types.QueueItem, 0, len(a.Items)), a.Items...)
		return s, nil

	case SelectCall:
		s.CallID = a.CallID
		s.Status = types.StatusRinging
		s.Seconds = 0
		s.Transcript = []types.TranscriptLine{}
		return s, nil

	case SetStatus:
		if stale(s, a.CallID) {
			return s, ErrStaleCall
		}
		if !CanTransition(s.Status, a.Status) {
			return s, &TransitionError{From: s.Status, To: a.Status}
		}
		s.Status = a.Status
		return s, nil

	case Tick:
		if s.Status == types.StatusActive {
			s.Seconds++
		}
		return s, nil

	case PushLine:
		if stale(s, a.CallID) {
			return s, ErrStaleCall
		}
		next := make([]types.TranscriptLine, len(s.Transcript), len(s.Transcript)+1)
		copy(next, s.Transcript)
		s.Transcript = append(next, a.Line)
		return s, nil

	case ResetCall:
		s.CallID = ""
		s.Status = types.StatusIdle
		s.Seconds = 0
		s.Transcript = []types.TranscriptLine{}
		return s, nil

	case SetFeedHealth:
		switch a.Feed {
		case types.FeedQueue:
			s.QueueFeed = a.Health
		case types.FeedCall:
			s.CallFeed = a.Health
		}
		return s, nil
	}
	return s, nil
}

func stale(s State, callID string) bool {
	return callID != "" && callID != s.CallID
}

package session

import (
	"errors"
	"fmt"

	"agent-console-go/internal/types"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrStaleCall         = errors.New("action targets a call that is no longer selected")
)

type TransitionError struct {
	From types.CallStatus
	To   types.CallStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// transitions lists the SetStatus moves allowed from each status. Idle and ended are only
// left through SelectCall and ResetCall.
var transitions = map[types.CallStatus][]types.CallStatus{
	types.StatusIdle:         nil,
	types.StatusRinging:      {types.StatusActive, types.StatusTransferring, types.StatusEnded},
	types.StatusActive:       {types.StatusTransferring, types.StatusEnded},
	types.StatusTransferring: {types.StatusActive, types.StatusEnded},
	types.StatusEnded:        nil,
}

// CanTransition reports whether SetStatus may move a session from one status to another.
// Repeating the current status is always allowed.
func CanTransition(from, to types.CallStatus) bool {
	next, known := transitions[from]
	if !known {
		return false
	}
	if _, ok := transitions[to]; !ok {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

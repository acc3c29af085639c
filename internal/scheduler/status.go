package scheduler

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of one execution.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the execution has ended.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// JobStatus is one observed status of an execution. Progress is only
// meaningful while Running and on Succeeded, where it is 100.
type JobStatus struct {
	ID       string    `json:"id"`
	Job      string    `json:"job"`
	Key      string    `json:"key"`
	Tags     []string  `json:"tags,omitempty"`
	State    State     `json:"state"`
	Progress int       `json:"progress"`
	Error    string    `json:"error,omitempty"`
	Updated  time.Time `json:"updated"`
}

// stateFor maps a worker result to a terminal state.
func stateFor(err error) State {
	switch {
	case err == nil:
		return Succeeded
	case errors.Is(err, context.Canceled):
		return Cancelled
	default:
		return Failed
	}
}

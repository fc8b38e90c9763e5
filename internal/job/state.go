package job

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned for a state change the lifecycle forbids.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// State is the lifecycle position of a job.
//
//	NONE -> RUNNING -> (WAITING <-> RUNNING)* -> FINISHED
type State int

const (
	StateNone State = iota
	StateRunning
	StateWaiting
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateRunning:
		return "RUNNING"
	case StateWaiting:
		return "WAITING"
	case StateFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "NONE", "":
		*s = StateNone
	case "RUNNING":
		*s = StateRunning
	case "WAITING":
		*s = StateWaiting
	case "FINISHED":
		*s = StateFinished
	default:
		return fmt.Errorf("job: unknown state %q", string(b))
	}
	return nil
}

func canTransition(from, to State) bool {
	switch from {
	case StateNone:
		return to == StateRunning
	case StateRunning:
		return to == StateWaiting || to == StateFinished
	case StateWaiting:
		return to == StateRunning || to == StateFinished
	default:
		return false
	}
}

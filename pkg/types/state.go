package types

import (
	"time"

	"github.com/cockroachdb/errors"
)

// State is the processing state of a file in the ledger
type State int

const (
	StateQueued State = iota + 1
	StateParsed
	StateIndexed
	StateError
)

var stateNames = map[State]string{
	StateQueued:  "queued",
	StateParsed:  "parsed",
	StateIndexed: "indexed",
	StateError:   "error",
}

// String returns the ledger label of the state
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the defined states
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState converts a ledger label into a State
func ParseState(label string) (State, error) {
	for s, name := range stateNames {
		if name == label {
			return s, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidState, "%q", label)
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Wrapf(ErrInvalidState, "%d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown labels
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CanTransition reports whether a file may move from one state to another.
// A zero from value means the file has no ledger entry yet.
func CanTransition(from, to State) bool {
	if !to.Valid() {
		return false
	}
	switch from {
	case 0:
		return to == StateQueued
	case StateQueued:
		// queued -> queued is a requeue of a stale entry
		return to == StateQueued || to == StateParsed || to == StateError
	case StateParsed:
		return to == StateIndexed || to == StateError
	case StateError:
		return to == StateQueued
	case StateIndexed:
		return false
	default:
		return false
	}
}

// FileState is a single ledger entry
type FileState struct {
	State     State      `json:"state"`
	Timestamp time.Time  `json:"timestamp"`
	Message   string     `json:"message,omitempty"`
	QueuedAt  *time.Time `json:"queued_at,omitempty"`
	Path      string     `json:"path,omitempty"` // upload path recorded when queued
}

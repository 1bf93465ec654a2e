package types

import "github.com/cockroachdb/errors"

// Domain errors shared across packages
var (
	// State machine errors
	ErrInvalidState      = errors.New("invalid file state")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Scheduling errors
	ErrLockContention  = errors.New("lock contention")
	ErrProjectRequired = errors.New("project is required")
	ErrInvalidProject  = errors.New("invalid project name")
	ErrUnknownFile     = errors.New("no upload recorded for file")

	// Search errors
	ErrEmptyQuery = errors.New("query cannot be empty")

	// Record validation errors
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrInvalidFrequency = errors.New("frequency must be >= 1")
	ErrEmptyTemplate    = errors.New("template cannot be empty")
)

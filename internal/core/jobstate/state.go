// Package jobstate holds the DownloadJob state machine.
package jobstate

import (
	"errors"
	"fmt"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

// State is an alias for domain.JobStatus for internal use.
type State = domain.JobStatus

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
// Terminal states have no outgoing edges.
var ValidTransitions = map[State][]State{
	domain.JobStatusPending: {domain.JobStatusInProgress},
	domain.JobStatusInProgress: {
		// A redelivered message after a crash mid-attempt picks the job up again.
		domain.JobStatusInProgress,
		domain.JobStatusScheduled,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	},
	domain.JobStatusScheduled: {domain.JobStatusInProgress},
	domain.JobStatusCompleted: {},
	domain.JobStatusFailed:    {},
}

// CanTransition checks if a transition from one state to another is valid.
// An empty from state means the job does not exist yet.
func CanTransition(from, to State) bool {
	if from == "" {
		return to == domain.JobStatusPending || to == domain.JobStatusInProgress
	}
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Check returns ErrInvalidTransition wrapped with both states when the move is not allowed.
func Check(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.JobStatusPending:
		return "Pending - accepted, waiting for a worker"
	case domain.JobStatusInProgress:
		return "In progress - fetching or transferring"
	case domain.JobStatusScheduled:
		return "Scheduled - waiting for the next attempt"
	case domain.JobStatusCompleted:
		return "Completed - media stored"
	case domain.JobStatusFailed:
		return "Failed - gave up"
	default:
		return "Unknown state"
	}
}

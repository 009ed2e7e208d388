package task

import (
	"errors"

	"github.com/vietddude/fetchkit/internal/core/domain"
)

// ErrInvalidTransition is returned when an invalid status transition is attempted.
var ErrInvalidTransition = errors.New("invalid task status transition")

// ValidTransitions defines allowed status transitions.
// Key is the current status, value is the list of valid next statuses.
var ValidTransitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStatusIdle: {domain.TaskStatusRunning},
	domain.TaskStatusRunning: {
		domain.TaskStatusSucceeded,
		domain.TaskStatusFailed,
		domain.TaskStatusCanceled,
	},
	domain.TaskStatusSucceeded: {domain.TaskStatusRunning},
	domain.TaskStatusFailed:    {domain.TaskStatusRunning},
	domain.TaskStatusCanceled:  {domain.TaskStatusRunning},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

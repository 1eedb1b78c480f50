// Package flow drives onboarding sessions: it owns the per-session engines,
// persists their progress and schedules idle eviction.
package flow

import (
	"context"
	"time"

	"github.com/travai/travai/internal/models"
)

// StateManager defines the interface for managing flow state.
type StateManager interface {
	// GetCurrentState retrieves the current state for a session in a flow
	GetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType) (models.StateType, error)

	// GetStateData retrieves additional data associated with the session's state
	GetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey) (string, error)

	// SaveState writes the state and a set of data keys in one store operation
	SaveState(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType, data map[models.DataKey]string) error

	// ResetState removes all state data for a session in a flow
	ResetState(ctx context.Context, sessionID string, flowType models.FlowType) error
}

// Timer defines the interface for scheduling delayed actions.
type Timer interface {
	// ScheduleNamed schedules a described function to run after a delay and returns its ID
	ScheduleNamed(delay time.Duration, description string, fn func()) (string, error)

	// Cancel cancels a scheduled function
	Cancel(id string) error

	// Stop cancels every scheduled function
	Stop()
}

// Notifier is told once when a session finishes onboarding.
type Notifier interface {
	NotifyComplete(ctx context.Context, status models.OnboardingStatus) error
}

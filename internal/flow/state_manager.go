package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetCurrentState retrieves the current state for a session in a flow.
func (sm *StoreBasedStateManager) GetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType) (models.StateType, error) {
	slog.Debug("StateManager GetCurrentState", "sessionID", sessionID, "flowType", flowType)

	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager GetCurrentState error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return "", err
	}

	if flowState == nil {
		slog.Debug("StateManager GetCurrentState not found", "sessionID", sessionID, "flowType", flowType)
		return "", nil
	}

	slog.Debug("StateManager GetCurrentState found", "sessionID", sessionID, "flowType", flowType, "state", flowState.CurrentState)
	return flowState.CurrentState, nil
}

// GetStateData retrieves additional data associated with the session's state.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey) (string, error) {
	slog.Debug("StateManager GetStateData", "sessionID", sessionID, "flowType", flowType, "key", key)

	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager GetStateData error", "error", err, "sessionID", sessionID, "flowType", flowType, "key", key)
		return "", err
	}

	if flowState == nil || flowState.StateData == nil {
		slog.Debug("StateManager GetStateData not found", "sessionID", sessionID, "flowType", flowType, "key", key)
		return "", nil
	}

	value, exists := flowState.StateData[key]
	if !exists {
		slog.Debug("StateManager GetStateData key not found", "sessionID", sessionID, "flowType", flowType, "key", key)
		return "", nil
	}

	slog.Debug("StateManager GetStateData found", "sessionID", sessionID, "flowType", flowType, "key", key)
	return value, nil
}

// SaveState writes the state and the given data keys together, keeping any
// other keys already stored.
func (sm *StoreBasedStateManager) SaveState(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType, data map[models.DataKey]string) error {
	slog.Debug("StateManager SaveState", "sessionID", sessionID, "flowType", flowType, "state", state, "keys", len(data))

	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager SaveState get error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}

	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			SessionID: sessionID,
			FlowType:  flowType,
			CreatedAt: now,
		}
	}
	if flowState.StateData == nil {
		flowState.StateData = make(map[models.DataKey]string, len(data))
	}
	for k, v := range data {
		flowState.StateData[k] = v
	}
	flowState.CurrentState = state
	flowState.UpdatedAt = now

	if err := sm.store.SaveFlowState(*flowState); err != nil {
		slog.Error("StateManager SaveState save error", "error", err, "sessionID", sessionID, "flowType", flowType, "state", state)
		return err
	}
	slog.Debug("StateManager SaveState succeeded", "sessionID", sessionID, "flowType", flowType, "state", state)
	return nil
}

// ResetState removes all state data for a session in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, sessionID string, flowType models.FlowType) error {
	slog.Debug("StateManager ResetState", "sessionID", sessionID, "flowType", flowType)

	err := sm.store.DeleteFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager ResetState error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}

	slog.Info("StateManager ResetState succeeded", "sessionID", sessionID, "flowType", flowType)
	return nil
}

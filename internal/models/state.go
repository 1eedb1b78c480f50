// Package models defines state management structures for Travai flows.
package models

import "time"

// FlowState is the persisted position of one session in a flow.
type FlowState struct {
	SessionID    string             `json:"session_id"`
	FlowType     FlowType           `json:"flow_type"`
	CurrentState StateType          `json:"current_state"`
	StateData    map[DataKey]string `json:"state_data,omitempty"` // Additional state-specific data
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// OnboardingStatus is the externally visible state of an onboarding session.
type OnboardingStatus struct {
	SessionID     string            `json:"session_id"`
	CurrentIndex  int               `json:"current_index"`
	TotalSteps    int               `json:"total_steps"`
	CurrentPrompt string            `json:"current_prompt"`
	Progress      float64           `json:"progress"`
	Complete      bool              `json:"complete"`
	Answers       map[string]string `json:"answers,omitempty"`
	Transcript    []Message         `json:"transcript,omitempty"`
}

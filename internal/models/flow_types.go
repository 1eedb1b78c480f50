// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific type of flow
type FlowType string

// StateType represents a specific state within a flow
type StateType string

// DataKey represents a key for storing state-specific data
type DataKey string

// Flow type constants.
const (
	FlowTypeOnboarding FlowType = "onboarding"
)

// State constants for the onboarding flow.
const (
	StateOnboardingActive   StateType = "ONBOARDING_ACTIVE"
	StateOnboardingComplete StateType = "ONBOARDING_COMPLETE"
)

// Data key constants for the onboarding flow.
const (
	DataKeyCurrentIndex DataKey = "currentIndex" // Engine cursor, decimal
	DataKeyAnswers      DataKey = "answers"      // JSON array of answers in step order
	DataKeyScriptIDs    DataKey = "scriptIDs"    // Comma-separated prompt IDs the answers belong to
	DataKeyNotified     DataKey = "notified"     // "true" once the completion notifier has fired
)

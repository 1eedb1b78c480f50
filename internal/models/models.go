// Package models defines the core data structures for Travai.
//
// It includes the token exchange payloads, webhook events, transcript
// messages and the JSON envelope shared by every API response.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxRoomNameLength defines the maximum allowed length for a room name
	MaxRoomNameLength = 256
	// MaxParticipantNameLength defines the maximum allowed length for a participant identity
	MaxParticipantNameLength = 256
	// MaxMetadataLength defines the maximum allowed length for participant metadata
	MaxMetadataLength = 64 * 1024
	// MaxAnswerLength defines the maximum allowed length for a single onboarding answer
	MaxAnswerLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyRoomName       = errors.New("room_name is required")
	ErrRoomNameTooLong     = errors.New("room_name exceeds maximum length")
	ErrEmptyParticipant    = errors.New("participant_name is required")
	ErrParticipantTooLong  = errors.New("participant_name exceeds maximum length")
	ErrMetadataTooLong     = errors.New("metadata exceeds maximum length")
	ErrAnswerTooLong       = errors.New("answer exceeds maximum length")
	ErrEmptySessionID      = errors.New("session id is required")
	ErrUnknownSession      = errors.New("onboarding session not found")
	ErrUnsupportedDataType = errors.New("unsupported data message type")
)

// TokenRequest is the payload a client sends to obtain a session token.
type TokenRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantName string `json:"participant_name"`
	Metadata        string `json:"metadata,omitempty"`
}

// Validate checks a TokenRequest for required fields and length limits.
func (r *TokenRequest) Validate() error {
	if strings.TrimSpace(r.RoomName) == "" {
		return ErrEmptyRoomName
	}
	if len(r.RoomName) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	if strings.TrimSpace(r.ParticipantName) == "" {
		return ErrEmptyParticipant
	}
	if len(r.ParticipantName) > MaxParticipantNameLength {
		return ErrParticipantTooLong
	}
	if len(r.Metadata) > MaxMetadataLength {
		return ErrMetadataTooLong
	}
	return nil
}

// TokenResponse carries a signed access token and the media server URL.
type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Message is one line of an onboarding transcript.
type Message struct {
	SessionID  string    `json:"session_id,omitempty"`
	Text       string    `json:"text"`
	IsFromUser bool      `json:"is_from_user"`
	Timestamp  time.Time `json:"timestamp"`
}

// AnswerRequest is the payload for submitting a typed onboarding answer.
// Text is taken verbatim; an empty string is a valid answer.
type AnswerRequest struct {
	Text string `json:"text"`
}

// Validate checks an AnswerRequest against length limits.
func (r *AnswerRequest) Validate() error {
	if len(r.Text) > MaxAnswerLength {
		return ErrAnswerTooLong
	}
	return nil
}

// SessionRequest is the payload for starting an onboarding session.
type SessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Package session is the client side of an onboarding call: it fetches an
// access token from the backend and holds the data channel to the agent.
package session

// ConnectionState is the lifecycle state of a Room.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// IsActive reports whether data can flow in this state.
func (s ConnectionState) IsActive() bool {
	return s == StateConnected
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/travai/travai/internal/models"
)

// ErrNotConnected is returned when sending on a room that is not connected.
var ErrNotConnected = errors.New("room is not connected")

// Transport carries data frames between the device and the agent.
type Transport interface {
	Dial(ctx context.Context, url, token string) error
	Send(msg models.DataMessage) error
	// Receive blocks for the next frame. It returns an error once the
	// connection is closed or broken.
	Receive() (models.DataMessage, error)
	Close() error
}

// StateListener is called on every connection state change. err is set
// only for StateError.
type StateListener func(state ConnectionState, err error)

// DataListener is called for every inbound frame.
type DataListener func(msg models.DataMessage)

// Room is a thin listener wrapper around a Transport. Listeners run on the
// room's read goroutine and must not block for long.
type Room struct {
	transport Transport

	mu             sync.Mutex
	state          ConnectionState
	micEnabled     bool
	closing        bool
	done           chan struct{}
	stateListeners []StateListener
	dataListeners  []DataListener
}

// NewRoom creates a disconnected Room on top of t.
func NewRoom(t Transport) *Room {
	return &Room{transport: t, state: StateDisconnected}
}

// OnStateChange registers a listener for connection state changes.
func (r *Room) OnStateChange(fn StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateListeners = append(r.stateListeners, fn)
}

// OnData registers a listener for inbound frames.
func (r *Room) OnData(fn DataListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataListeners = append(r.dataListeners, fn)
}

// State returns the current connection state.
func (r *Room) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MicrophoneEnabled reports the last microphone state sent to the agent.
func (r *Room) MicrophoneEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.micEnabled
}

// Connect dials url with token and starts delivering frames to listeners.
func (r *Room) Connect(ctx context.Context, url, token string) error {
	r.mu.Lock()
	if r.state == StateConnected || r.state == StateConnecting {
		r.mu.Unlock()
		return fmt.Errorf("room already %s", r.state)
	}
	r.closing = false
	r.mu.Unlock()

	r.setState(StateConnecting, nil)
	slog.Debug("Room.Connect", "url", url)
	if err := r.transport.Dial(ctx, url, token); err != nil {
		cerr := &ConnectionError{
			Op:          "connect",
			Cause:       err,
			Remediation: "Could not open the agent channel. Check the backend address and try again with a fresh token.",
		}
		r.setState(StateError, cerr)
		return cerr
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.done = done
	r.mu.Unlock()
	r.setState(StateConnected, nil)
	go r.readLoop(done)
	return nil
}

// SendText sends a user utterance to the agent.
func (r *Room) SendText(text string) error {
	return r.send(models.DataMessage{Type: models.DataTypeText, Text: text})
}

// SetMicrophoneEnabled tells the agent whether the user's microphone is live.
func (r *Room) SetMicrophoneEnabled(enabled bool) error {
	if err := r.send(models.DataMessage{Type: models.DataTypeMic, Enabled: &enabled}); err != nil {
		return err
	}
	r.mu.Lock()
	r.micEnabled = enabled
	r.mu.Unlock()
	return nil
}

// Disconnect closes the transport and waits for the read loop to exit.
// It is safe to call on a room that is not connected.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	if r.state == StateDisconnected {
		r.mu.Unlock()
		return nil
	}
	r.closing = true
	done := r.done
	r.mu.Unlock()

	err := r.transport.Close()
	if done != nil {
		<-done
	}
	r.mu.Lock()
	r.micEnabled = false
	r.done = nil
	r.mu.Unlock()
	r.setState(StateDisconnected, nil)
	return err
}

func (r *Room) send(msg models.DataMessage) error {
	if !r.State().IsActive() {
		return ErrNotConnected
	}
	if err := r.transport.Send(msg); err != nil {
		return fmt.Errorf("send %s frame: %w", msg.Type, err)
	}
	return nil
}

func (r *Room) readLoop(done chan struct{}) {
	defer close(done)
	for {
		msg, err := r.transport.Receive()
		if err != nil {
			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()
			if closing {
				return
			}
			slog.Warn("Room: data channel failed", "error", err)
			r.setState(StateError, &ConnectionError{
				Op:          "receive",
				Cause:       err,
				Remediation: "The connection to the agent was lost. Reconnect to continue where you left off.",
			})
			return
		}

		r.mu.Lock()
		listeners := append([]DataListener(nil), r.dataListeners...)
		r.mu.Unlock()
		for _, fn := range listeners {
			fn(msg)
		}
	}
}

func (r *Room) setState(state ConnectionState, err error) {
	r.mu.Lock()
	if r.state == state && err == nil {
		r.mu.Unlock()
		return
	}
	r.state = state
	listeners := append([]StateListener(nil), r.stateListeners...)
	r.mu.Unlock()

	slog.Debug("Room state changed", "state", state, "error", err)
	for _, fn := range listeners {
		fn(state, err)
	}
}

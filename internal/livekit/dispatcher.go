package livekit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/travai/travai/internal/models"
)

// EventHandler reacts to one decoded webhook event.
type EventHandler func(ctx context.Context, evt models.WebhookEvent) error

// Dispatcher routes webhook events to the handlers registered for their type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.WebhookEventType][]EventHandler
}

// NewDispatcher creates a Dispatcher with the default logging handlers installed.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[models.WebhookEventType][]EventHandler)}
	d.On(models.EventRoomStarted, logRoomStarted)
	d.On(models.EventRoomFinished, logRoomFinished)
	d.On(models.EventParticipantJoined, logParticipantJoined)
	d.On(models.EventParticipantLeft, logParticipantLeft)
	d.On(models.EventTrackPublished, logTrack("published"))
	d.On(models.EventTrackUnpublished, logTrack("unpublished"))
	d.On(models.EventRecordingFinished, logRecordingFinished)
	return d
}

// On appends a handler for the given event type.
func (d *Dispatcher) On(eventType models.WebhookEventType, h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Handles reports whether any handler is registered for the event type.
func (d *Dispatcher) Handles(eventType models.WebhookEventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType]) > 0
}

// Dispatch runs every handler for the event's type in registration order and
// stops at the first error. Unknown event types are logged and acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, evt models.WebhookEvent) error {
	d.mu.RLock()
	handlers := d.handlers[evt.Event]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Info("Dispatcher.Dispatch: unhandled event type", "event", evt.Event)
		return nil
	}
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			slog.Error("Dispatcher.Dispatch: handler failed", "event", evt.Event, "room", evt.RoomName, "error", err)
			return fmt.Errorf("handling %s: %w", evt.Event, err)
		}
	}
	return nil
}

func logRoomStarted(_ context.Context, evt models.WebhookEvent) error {
	slog.Info("Room started", "room", evt.RoomName)
	return nil
}

func logRoomFinished(_ context.Context, evt models.WebhookEvent) error {
	slog.Info("Room finished", "room", evt.RoomName, "duration_s", evt.RoomDuration)
	return nil
}

func logParticipantJoined(_ context.Context, evt models.WebhookEvent) error {
	slog.Info("Participant joined", "room", evt.RoomName, "identity", evt.ParticipantIdentity, "name", evt.ParticipantName)
	return nil
}

func logParticipantLeft(_ context.Context, evt models.WebhookEvent) error {
	slog.Info("Participant left", "room", evt.RoomName, "identity", evt.ParticipantIdentity)
	return nil
}

func logTrack(action string) EventHandler {
	return func(_ context.Context, evt models.WebhookEvent) error {
		slog.Info("Track "+action, "track_type", evt.TrackType, "identity", evt.ParticipantIdentity)
		return nil
	}
}

func logRecordingFinished(_ context.Context, evt models.WebhookEvent) error {
	slog.Info("Recording finished", "room", evt.RoomName, "location", evt.RecordingLocation)
	return nil
}

package models

import "time"

// WebhookEventType names an event delivered by the media platform.
type WebhookEventType string

const (
	EventRoomStarted       WebhookEventType = "room_started"
	EventRoomFinished      WebhookEventType = "room_finished"
	EventParticipantJoined WebhookEventType = "participant_joined"
	EventParticipantLeft   WebhookEventType = "participant_left"
	EventTrackPublished    WebhookEventType = "track_published"
	EventTrackUnpublished  WebhookEventType = "track_unpublished"
	EventRecordingFinished WebhookEventType = "recording_finished"
)

// WebhookEvent is the flattened form of a platform webhook payload.
type WebhookEvent struct {
	ID                  string           `json:"id"`
	Event               WebhookEventType `json:"event"`
	RoomName            string           `json:"room_name,omitempty"`
	RoomDuration        int64            `json:"room_duration,omitempty"` // seconds
	ParticipantIdentity string           `json:"participant_identity,omitempty"`
	ParticipantName     string           `json:"participant_name,omitempty"`
	TrackType           string           `json:"track_type,omitempty"`
	RecordingLocation   string           `json:"recording_location,omitempty"`
	Raw                 string           `json:"raw,omitempty"`
	ReceivedAt          time.Time        `json:"received_at"`
}

// DataMessageType tags frames exchanged over the onboarding data channel.
type DataMessageType string

const (
	// DataTypeText carries a user utterance, already transcribed.
	DataTypeText DataMessageType = "text"
	// DataTypeMic toggles the user's microphone.
	DataTypeMic DataMessageType = "mic"
	// DataTypeAgent carries the assistant's reply and progress.
	DataTypeAgent DataMessageType = "agent"
	// DataTypeError reports a problem handling the previous frame.
	DataTypeError DataMessageType = "error"
)

// DataMessage is one JSON frame on the onboarding data channel.
type DataMessage struct {
	Type     DataMessageType `json:"type"`
	Text     string          `json:"text,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
	Progress float64         `json:"progress,omitempty"`
	Complete bool            `json:"complete,omitempty"`
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/travai/travai/internal/models"
)

// webhookEventColumns is the column order shared by every webhook event query.
const webhookEventColumns = `id, event, room_name, room_duration, participant_identity, participant_name, track_type, recording_location, raw, received_at`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// decodeStateData unmarshals a JSON state_data column. Malformed data is
// logged and dropped rather than failing the read.
func decodeStateData(raw string, sessionID string) map[models.DataKey]string {
	if raw == "" {
		return nil
	}
	var data map[models.DataKey]string
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Warn("store: failed to decode state_data, ignoring", "error", err, "sessionID", sessionID)
		return nil
	}
	return data
}

// scanWebhookEvents drains rows selected with webhookEventColumns.
func scanWebhookEvents(rows *sql.Rows) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		var roomName, identity, name, trackType, location, raw sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Event, &roomName, &duration, &identity, &name,
			&trackType, &location, &raw, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event failed: %w", err)
		}
		e.RoomName = roomName.String
		e.RoomDuration = duration.Int64
		e.ParticipantIdentity = identity.String
		e.ParticipantName = name.String
		e.TrackType = trackType.String
		e.RecordingLocation = location.String
		e.Raw = raw.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook event rows: %w", err)
	}
	return events, nil
}

// Package notify is the event fabric pushing pipeline progress to connected
// clients. Events flow through redis pub/sub (one channel per user) so every
// replica of the daemon sees every event regardless of which replica's worker
// produced it; the websocket bridge fans them out to browsers.
//
// Publishing is fire-and-forget: a dropped notification must never fail the
// task that produced it.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to clients.
const (
	// EventFileStatus signals a media file lifecycle transition. Payload
	// carries "status" and, for ERROR, "error_message" and "suggestions".
	EventFileStatus = "file.status"

	// EventFileProgress carries the aggregate progress of a file's pipeline.
	EventFileProgress = "file.progress"

	// EventTaskUpdate signals a task starting, progressing, or finishing.
	EventTaskUpdate = "task.update"

	// EventSpeakerMatch signals that a cross-file speaker match was found or
	// applied.
	EventSpeakerMatch = "speaker.match"

	// EventRecovery signals a recovery action on one of the user's files.
	EventRecovery = "recovery.action"

	// EventSummaryReady signals that summarization or topic extraction
	// finished.
	EventSummaryReady = "summary.ready"
)

// Event is the wire envelope pushed to clients. Payload is an event-type
// specific JSON object.
type Event struct {
	Type    string          `json:"type"`
	UserID  uuid.UUID       `json:"user_id"`
	FileID  uuid.UUID       `json:"file_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent builds an Event with the payload marshalled from v and At set to
// now. A nil v leaves the payload empty.
func NewEvent(eventType string, userID, fileID uuid.UUID, v any) (Event, error) {
	ev := Event{
		Type:   eventType,
		UserID: userID,
		FileID: fileID,
		At:     time.Now().UTC(),
	}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = raw
	}
	return ev, nil
}

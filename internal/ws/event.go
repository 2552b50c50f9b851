package ws

import (
	"encoding/json"
	"time"
)

// Event is a server-push notification sent to connected clients when a
// memory operation completes, so frontends can refresh without polling.
type Event struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// Event types pushed by the backend.
const (
	EventMemorySaved   = "memory_saved"
	EventMemorySkipped = "memory_skipped"
	EventMemoryDeleted = "memory_deleted"
	EventMemoryCleared = "memory_cleared"
)

// NewEvent builds an event stamped with the current time and returns its
// JSON encoding, ready for broadcast.
func NewEvent(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(Event{
		Type: eventType,
		Time: time.Now().UTC(),
		Data: data,
	})
}

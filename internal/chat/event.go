package chat

import (
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/models"
)

// EventType enumerates the events flowing through the post-commit feed.
type EventType string

const (
	// EventTypeMessage carries a message that was durably committed.
	EventTypeMessage EventType = "message"
	// EventTypePresence marks a user connection coming online or going
	// offline.
	EventTypePresence EventType = "presence"
)

// Event is the wire representation forwarded to the feed. Message events are
// published strictly after the durable append succeeds; live fan-out never
// depends on the feed.
type Event struct {
	Type       EventType       `json:"type"`
	Message    *models.Message `json:"message,omitempty"`
	Presence   *PresenceEvent  `json:"presence,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// PresenceEvent describes a single connection binding or releasing a user.
type PresenceEvent struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Online       bool   `json:"online"`
}

// NewMessageEvent wraps a committed message for the feed.
func NewMessageEvent(message models.Message) Event {
	return Event{
		Type:       EventTypeMessage,
		Message:    &message,
		OccurredAt: time.Now().UTC(),
	}
}

// NewPresenceEvent wraps a presence transition for the feed.
func NewPresenceEvent(userID, connectionID string, online bool) Event {
	return Event{
		Type:       EventTypePresence,
		Presence:   &PresenceEvent{UserID: userID, ConnectionID: connectionID, Online: online},
		OccurredAt: time.Now().UTC(),
	}
}

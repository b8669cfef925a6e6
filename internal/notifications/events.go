// Package notifications fans desk events out to the agent frontend
// over websockets, to external systems over webhooks, and across
// processes through Redis pub/sub.
package notifications

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what kind of desk event an envelope carries.
type EventType string

const (
	EventConnectionUpdate EventType = "connection_update"
	EventTicketUpdate     EventType = "ticket_update"
	EventNewMessage       EventType = "new-message"
	EventMessageUpdate    EventType = "message_update"
)

// Event is the envelope published to every hub subscriber.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent builds a stamped event envelope.
func NewEvent(eventType EventType, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// ConnectionUpdatePayload is published when a connection changes
// lifecycle status, including QR availability.
type ConnectionUpdatePayload struct {
	ConnectionID int64  `json:"connection_id"`
	Status       string `json:"status"`
	QRAvailable  bool   `json:"qr_available,omitempty"`
}

// TicketUpdatePayload is published on ticket status, queue or
// assignment changes.
type TicketUpdatePayload struct {
	TicketID int64  `json:"ticket_id"`
	Status   string `json:"status"`
	QueueID  *int64 `json:"queue_id,omitempty"`
	UserID   *int64 `json:"user_id,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// MessagePayload is published for new messages and delivery updates.
type MessagePayload struct {
	MessageID string `json:"message_id"`
	TicketID  int64  `json:"ticket_id"`
	Sender    string `json:"sender"`
	Body      string `json:"body,omitempty"`
	Delivered bool   `json:"delivered"`
}

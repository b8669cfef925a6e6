package models

import (
	"fmt"
	"time"
)

// TicketStatus is the agent-driven lifecycle of a support case.
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketAttending TicketStatus = "attending"
	TicketResolved  TicketStatus = "resolved"
)

// Ticket is a support case tracked from first contact to resolution.
// At most one non-resolved ticket exists per (contact_number,
// connection_id) pair.
type Ticket struct {
	ID            int64        `json:"id"`
	ContactName   string       `json:"contact_name"`
	ContactNumber string       `json:"contact_number"`
	Status        TicketStatus `json:"status"`
	IsOnHold      bool         `json:"is_on_hold"`
	// IsManual marks tickets created by an agent with no connection;
	// they are exempt from automated messaging.
	IsManual     bool   `json:"is_manual"`
	UserID       *int64 `json:"user_id"`
	QueueID      *int64 `json:"queue_id"`
	ConnectionID *int64 `json:"connection_id"`
	// Protocol is the human-shareable identifier issued once at
	// creation and immutable afterwards.
	Protocol        string    `json:"protocol"`
	InvalidAttempts int       `json:"invalid_attempts"`
	UnreadMessages  int       `json:"unread_messages"`
	LastMessage     string    `json:"last_message"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsOpen reports whether the ticket still claims its contact for the
// unique open-ticket invariant.
func (t *Ticket) IsOpen() bool {
	return t.Status != TicketResolved
}

// MakeProtocol derives the protocol number for a ticket from its
// creation instant and id: yyyymmdd followed by the zero-padded id.
func MakeProtocol(createdAt time.Time, id int64) string {
	return fmt.Sprintf("%s%06d", createdAt.Format("20060102"), id)
}

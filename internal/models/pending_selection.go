package models

import "time"

// PendingSelection is the transient record for a contact who has
// written in but has not yet chosen a department. Unique per contact
// number; resolved into a Ticket or deleted, never left dangling.
type PendingSelection struct {
	ContactNumber  string    `json:"contact_number"`
	ContactName    string    `json:"contact_name"`
	ConnectionID   int64     `json:"connection_id"`
	FirstMessage   string    `json:"first_message"`
	FirstMessageAt time.Time `json:"first_message_at"`
	InvalidAttempts int      `json:"invalid_attempts"`
	// InitialSent flips false to true exactly once, no matter how many
	// messages arrive while the settle delay is pending.
	InitialSent bool      `json:"initial_sent"`
	CreatedAt   time.Time `json:"created_at"`
}

// HeldMessage is a contact message parked while its pending selection
// is unresolved; migrated into the ticket in arrival order.
type HeldMessage struct {
	ID            int64     `json:"id"`
	ContactNumber string    `json:"contact_number"`
	Body          string    `json:"body"`
	WAMessageID   string    `json:"wa_message_id"`
	ReceivedAt    time.Time `json:"received_at"`
}

// BotCooldown suppresses automated re-engagement of a contact for a
// window after their ticket is resolved.
type BotCooldown struct {
	ContactNumber string    `json:"contact_number"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// Active reports whether the cooldown still suppresses the bot at now.
func (b *BotCooldown) Active(now time.Time) bool {
	return now.Before(b.CooldownUntil)
}

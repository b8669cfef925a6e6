package models

import "time"

// MessageSender identifies who authored a message on a ticket.
type MessageSender string

const (
	SenderContact MessageSender = "contact"
	SenderBot     MessageSender = "bot"
	SenderUser    MessageSender = "user"
)

// Message is one entry on a ticket's conversation. Delivered
// transitions false to true exactly once, driven by transport
// acknowledgement events.
type Message struct {
	ID              string        `json:"id"`
	TicketID        int64         `json:"ticket_id"`
	Sender          MessageSender `json:"sender"`
	Body            string        `json:"body"`
	SentViaWhatsApp bool          `json:"sent_via_whatsapp"`
	WAMessageID     string        `json:"wa_message_id"`
	Delivered       bool          `json:"delivered"`
	CreatedAt       time.Time     `json:"created_at"`
}

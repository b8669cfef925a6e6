// Package models holds the persistent domain types of the support desk.
package models

import "time"

// ConnectionStatus is the lifecycle status of a messaging connection.
// It is owned exclusively by the session lifecycle manager once an
// initialization has started.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionQRPending    ConnectionStatus = "QR_PENDING"
	ConnectionConnected    ConnectionStatus = "CONNECTED"
)

// Connection is one external messaging account routed into the desk.
type Connection struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name"`
	IsDefault      bool             `json:"is_default"`
	ChatbotEnabled bool             `json:"chatbot_enabled"`
	// StartTime/EndTime bound the business-hours window in "HH:MM" local
	// time. Nil means always open. A window may wrap past midnight.
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	// DeviceJID is the provider device this connection paired with.
	// Nil until the first successful pairing.
	DeviceJID        *string          `json:"device_jid"`
	Status           ConnectionStatus `json:"status"`
	GreetingMessage  string           `json:"greeting_message"`
	FarewellMessage  string           `json:"farewell_message"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

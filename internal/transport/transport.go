// Package transport abstracts the messaging provider behind a small
// client contract so the session manager and router never touch
// provider SDK types directly.
package transport

import (
	"context"
	"time"
)

// State is the provider-side view of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// LifecycleKind labels a lifecycle event.
type LifecycleKind string

const (
	LifecycleQR            LifecycleKind = "qr"
	LifecycleAuthenticated LifecycleKind = "authenticated"
	LifecycleReady         LifecycleKind = "ready"
	LifecycleAuthFailure   LifecycleKind = "auth_failure"
	LifecycleDisconnected  LifecycleKind = "disconnected"
)

// LifecycleEvent reports a session state change. QR events carry the
// pairing code in Data.
type LifecycleEvent struct {
	Kind LifecycleKind
	Data string
	Err  error
}

// InboundMessage is a message received from a contact.
type InboundMessage struct {
	From       string // bare phone number
	PushName   string
	Body       string
	MessageID  string
	FromMe     bool
	ReceivedAt time.Time
}

// DeliveryAck reports that the provider delivered an outbound message.
type DeliveryAck struct {
	MessageID string
	At        time.Time
}

// Client is one provider session. Initialize is asynchronous: outcome
// arrives on Lifecycle(). Destroy must be safe to call at any point.
type Client interface {
	Initialize(ctx context.Context) error
	// SendMessage delivers a text to a bare phone number and returns
	// the provider message id.
	SendMessage(ctx context.Context, to, body string) (string, error)
	GetState(ctx context.Context) (State, error)
	Logout(ctx context.Context) error
	Destroy() error

	Lifecycle() <-chan LifecycleEvent
	Inbound() <-chan InboundMessage
	Acks() <-chan DeliveryAck
}

// Factory builds a Client for a connection id.
type Factory func(connectionID int64) (Client, error)

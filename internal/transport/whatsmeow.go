package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

// DeviceStore resolves and records which provider device a connection
// is bound to. Every connection pairs its own device; the binding is
// the jid persisted on the Connection row.
type DeviceStore interface {
	GetByID(ctx context.Context, id int64) (*models.Connection, error)
	UpdateDeviceJID(ctx context.Context, id int64, jid string) error
}

// WhatsmeowClient adapts a whatsmeow session to the Client contract.
// One instance per connection; the shared sqlstore container holds
// the credentials of every paired device.
type WhatsmeowClient struct {
	connectionID int64
	container    *sqlstore.Container
	devices      DeviceStore
	logger       zerolog.Logger

	mu     sync.Mutex
	client *whatsmeow.Client

	lifecycleCh chan LifecycleEvent
	inboundCh   chan InboundMessage
	acksCh      chan DeliveryAck

	stopOnce sync.Once
	stop     chan struct{}
}

// NewWhatsmeowContainer opens the whatsmeow credential store on the
// given database.
func NewWhatsmeowContainer(ctx context.Context, driver, dsn string, logger zerolog.Logger) (*sqlstore.Container, error) {
	dialect := driver
	if dialect == "sqlite" {
		dialect = "sqlite3"
	}
	container, err := sqlstore.New(ctx, dialect, dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	logger.Debug().Str("driver", dialect).Msg("device store ready")
	return container, nil
}

// NewWhatsmeowFactory returns a Factory producing whatsmeow clients
// backed by the shared container, one device per connection.
func NewWhatsmeowFactory(container *sqlstore.Container, devices DeviceStore, logger zerolog.Logger) Factory {
	return func(connectionID int64) (Client, error) {
		return &WhatsmeowClient{
			connectionID: connectionID,
			container:    container,
			devices:      devices,
			logger:       logger.With().Int64("connection_id", connectionID).Logger(),
			lifecycleCh:  make(chan LifecycleEvent, 16),
			inboundCh:    make(chan InboundMessage, 64),
			acksCh:       make(chan DeliveryAck, 64),
			stop:         make(chan struct{}),
		}, nil
	}
}

// Initialize connects the session. A device without stored credentials
// streams QR codes on Lifecycle() until the phone pairs.
func (w *WhatsmeowClient) Initialize(ctx context.Context) error {
	device, err := w.loadDevice(ctx)
	if err != nil {
		return err
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.AddEventHandler(w.handleEvent)

	w.mu.Lock()
	w.client = client
	w.mu.Unlock()

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to open qr channel: %w", err)
		}
		go w.pumpQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect session: %w", err)
	}
	return nil
}

// loadDevice resolves the device bound to this connection. A
// connection that never paired, or whose stored credentials were
// wiped, gets a fresh unpaired device and goes through QR pairing.
func (w *WhatsmeowClient) loadDevice(ctx context.Context) (*store.Device, error) {
	conn, err := w.devices.GetByID(ctx, w.connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if conn.DeviceJID != nil && *conn.DeviceJID != "" {
		jid, err := types.ParseJID(*conn.DeviceJID)
		if err != nil {
			return nil, fmt.Errorf("stored device jid %q is invalid: %w", *conn.DeviceJID, err)
		}
		device, err := w.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("failed to load device: %w", err)
		}
		if device != nil {
			return device, nil
		}
		w.logger.Warn().Str("jid", jid.String()).Msg("bound device no longer in store, re-pairing")
	}
	return w.container.NewDevice(), nil
}

func (w *WhatsmeowClient) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		select {
		case <-w.stop:
			return
		default:
		}
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			w.emit(LifecycleEvent{Kind: LifecycleQR, Data: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			w.emit(LifecycleEvent{Kind: LifecycleAuthenticated})
		case whatsmeow.QRChannelTimeout.Event:
			w.emit(LifecycleEvent{Kind: LifecycleAuthFailure, Err: Fatal("qr pairing timed out", nil)})
		case whatsmeow.QRChannelEventError:
			w.emit(LifecycleEvent{Kind: LifecycleAuthFailure, Err: item.Error})
		}
	}
}

func (w *WhatsmeowClient) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		if err := w.devices.UpdateDeviceJID(context.Background(), w.connectionID, e.ID.String()); err != nil {
			w.logger.Error().Err(err).Str("jid", e.ID.String()).Msg("failed to record paired device")
		}
		w.emit(LifecycleEvent{Kind: LifecycleAuthenticated})
	case *events.Connected:
		w.emit(LifecycleEvent{Kind: LifecycleReady})
	case *events.LoggedOut:
		w.emit(LifecycleEvent{Kind: LifecycleAuthFailure, Err: Fatal("device logged out", nil)})
	case *events.Disconnected:
		w.emit(LifecycleEvent{Kind: LifecycleDisconnected})
	case *events.Message:
		w.handleMessage(e)
	case *events.Receipt:
		w.handleReceipt(e)
	}
}

func (w *WhatsmeowClient) handleMessage(e *events.Message) {
	body := e.Message.GetConversation()
	if body == "" {
		body = e.Message.GetExtendedTextMessage().GetText()
	}
	if body == "" || e.Info.Chat.Server != types.DefaultUserServer {
		// group chats and non-text payloads are not routed
		return
	}
	msg := InboundMessage{
		From:       e.Info.Chat.User,
		PushName:   e.Info.PushName,
		Body:       body,
		MessageID:  string(e.Info.ID),
		FromMe:     e.Info.IsFromMe,
		ReceivedAt: e.Info.Timestamp,
	}
	select {
	case w.inboundCh <- msg:
	case <-w.stop:
	}
}

func (w *WhatsmeowClient) handleReceipt(e *events.Receipt) {
	if e.Type != types.ReceiptTypeDelivered {
		return
	}
	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	for _, id := range e.MessageIDs {
		select {
		case w.acksCh <- DeliveryAck{MessageID: string(id), At: at}:
		case <-w.stop:
			return
		}
	}
}

func (w *WhatsmeowClient) emit(e LifecycleEvent) {
	select {
	case w.lifecycleCh <- e:
	case <-w.stop:
	}
}

// SendMessage delivers a plain text message.
func (w *WhatsmeowClient) SendMessage(ctx context.Context, to, body string) (string, error) {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return "", fmt.Errorf("session %d is not connected", w.connectionID)
	}

	jid := types.NewJID(sanitizeNumber(to), types.DefaultUserServer)
	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		if IsFatal(err) {
			return "", Fatal("send rejected", err)
		}
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return string(resp.ID), nil
}

// GetState probes the underlying session.
func (w *WhatsmeowClient) GetState(context.Context) (State, error) {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	switch {
	case client == nil:
		return StateDisconnected, nil
	case client.IsConnected() && client.IsLoggedIn():
		return StateConnected, nil
	case client.IsConnected():
		return StateConnecting, nil
	default:
		return StateDisconnected, nil
	}
}

// Logout unpairs the device and clears stored credentials.
func (w *WhatsmeowClient) Logout(ctx context.Context) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Logout(ctx); err != nil && !strings.Contains(err.Error(), "not logged in") {
		return fmt.Errorf("failed to log out: %w", err)
	}
	// logout unpairs the device, so the binding is stale
	if err := w.devices.UpdateDeviceJID(ctx, w.connectionID, ""); err != nil {
		w.logger.Warn().Err(err).Msg("failed to clear device binding")
	}
	return nil
}

// Destroy tears the session down without unpairing.
func (w *WhatsmeowClient) Destroy() error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.Lock()
	client := w.client
	w.client = nil
	w.mu.Unlock()
	if client != nil {
		client.Disconnect()
	}
	return nil
}

func (w *WhatsmeowClient) Lifecycle() <-chan LifecycleEvent { return w.lifecycleCh }
func (w *WhatsmeowClient) Inbound() <-chan InboundMessage   { return w.inboundCh }
func (w *WhatsmeowClient) Acks() <-chan DeliveryAck         { return w.acksCh }

func sanitizeNumber(n string) string {
	var b strings.Builder
	for _, r := range n {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

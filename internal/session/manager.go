package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapdesk-io/zapdesk-ce/internal/config"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/notifications"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
	"github.com/zapdesk-io/zapdesk-ce/internal/transport"
)

var (
	// ErrInitInProgress is returned when a start request races an
	// initialization already in flight for the same connection.
	ErrInitInProgress = errors.New("session initialization already in progress")
	// ErrBackoff is returned while a connection sits out its failure
	// backoff window.
	ErrBackoff = errors.New("session is backing off after repeated failures")
	// ErrNotRegistered is returned for operations on a connection with
	// no live client.
	ErrNotRegistered = errors.New("no active session for connection")
)

// InboundHandler consumes traffic from ready sessions. The router
// implements it; the manager attaches it only after a session reports
// ready so half-initialized clients never route messages.
type InboundHandler interface {
	HandleInbound(ctx context.Context, connectionID int64, msg transport.InboundMessage)
	HandleAck(ctx context.Context, connectionID int64, ack transport.DeliveryAck)
}

type failureRecord struct {
	count int
	last  time.Time
}

// Manager drives provider sessions through their lifecycle. All state
// transitions funnel through here: the API layer only asks, the
// manager decides.
type Manager struct {
	cfg         config.SessionConfig
	connections repository.ConnectionRepository
	factory     transport.Factory
	logger      zerolog.Logger
	qr          *QRCache
	registry    *registry
	metrics     *sessionMetrics

	mu           sync.Mutex
	initializing map[int64]struct{}
	failures     map[int64]failureRecord
	critical     map[int64]int
	handler      InboundHandler
}

// NewManager creates a session manager. Attach the router with
// SetInboundHandler before starting sessions.
func NewManager(cfg config.SessionConfig, connections repository.ConnectionRepository, factory transport.Factory, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		connections:  connections,
		factory:      factory,
		logger:       logger,
		qr:           NewQRCache(cfg.QRTTL),
		registry:     newRegistry(),
		metrics:      globalSessionMetrics(),
		initializing: make(map[int64]struct{}),
		failures:     make(map[int64]failureRecord),
		critical:     make(map[int64]int),
	}
}

// SetInboundHandler wires the message router in.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// QR returns the pending pairing code for a connection, if any.
func (m *Manager) QR(connectionID int64) (string, bool) {
	return m.qr.Get(connectionID)
}

// IsActive reports whether a live client exists for the connection.
func (m *Manager) IsActive(connectionID int64) bool {
	_, ok := m.registry.get(connectionID)
	return ok
}

// StartSession initializes the provider session for a connection.
// Single flight: a second request while one is in progress returns
// ErrInitInProgress; a request during the backoff window returns
// ErrBackoff; a request for an already connected session is a no-op.
func (m *Manager) StartSession(ctx context.Context, connectionID int64) error {
	if _, err := m.connections.GetByID(ctx, connectionID); err != nil {
		return err
	}

	if client, ok := m.registry.get(connectionID); ok {
		state, err := client.GetState(ctx)
		if err == nil && state == transport.StateConnected {
			return nil
		}
	}

	m.mu.Lock()
	if _, busy := m.initializing[connectionID]; busy {
		m.mu.Unlock()
		return ErrInitInProgress
	}
	if rec, ok := m.failures[connectionID]; ok &&
		rec.count >= m.cfg.MaxInitRetries &&
		time.Since(rec.last) < m.cfg.BackoffWindow {
		m.mu.Unlock()
		m.metrics.recordInit("backoff")
		return ErrBackoff
	}
	m.initializing[connectionID] = struct{}{}
	m.mu.Unlock()

	if old, ok := m.registry.remove(connectionID); ok {
		_ = old.Destroy()
	}

	client, err := m.factory(connectionID)
	if err != nil {
		m.finishInit(connectionID, false)
		return fmt.Errorf("failed to build session client: %w", err)
	}

	// Register before the async init so concurrent lookups see the
	// client while it is still pairing.
	m.registry.put(connectionID, client)
	m.metrics.activeClients.Set(float64(m.registry.size()))

	stop := make(chan struct{})
	go m.run(connectionID, client, stop)

	if err := client.Initialize(context.Background()); err != nil {
		close(stop)
		m.logger.Error().Err(err).Int64("connection_id", connectionID).Msg("session init failed")
		m.teardown(connectionID, client, false)
		m.finishInit(connectionID, false)
		m.metrics.recordInit("error")
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	return nil
}

// run pumps lifecycle, inbound and ack events for one client until it
// is destroyed. The init timeout tears the client down when no
// terminal event arrives in time.
func (m *Manager) run(connectionID int64, client transport.Client, stop <-chan struct{}) {
	ctx := context.Background()
	log := m.logger.With().Int64("connection_id", connectionID).Logger()
	stopTimer := m.metrics.timeInit()

	initTimeout := time.NewTimer(m.cfg.InitTimeout)
	defer initTimeout.Stop()
	settled := false

	settle := func(success bool) {
		if settled {
			return
		}
		settled = true
		stopTimer()
		initTimeout.Stop()
		m.finishInit(connectionID, success)
	}

	for {
		select {
		case <-stop:
			// StartSession handled the failure itself
			stopTimer()
			return

		case <-initTimeout.C:
			if settled {
				continue
			}
			log.Warn().Dur("timeout", m.cfg.InitTimeout).Msg("session init timed out")
			m.metrics.recordInit("timeout")
			settle(false)
			m.teardown(connectionID, client, false)
			return

		case event, ok := <-client.Lifecycle():
			if !ok {
				settle(false)
				return
			}
			switch event.Kind {
			case transport.LifecycleQR:
				if err := m.qr.Put(connectionID, event.Data); err != nil {
					log.Error().Err(err).Msg("failed to cache qr code")
					continue
				}
				m.setStatus(ctx, connectionID, models.ConnectionQRPending, true)
				log.Info().Msg("qr code available")

			case transport.LifecycleAuthenticated:
				m.qr.Drop(connectionID)
				log.Info().Msg("session authenticated")

			case transport.LifecycleReady:
				m.qr.Drop(connectionID)
				m.mu.Lock()
				delete(m.failures, connectionID)
				m.critical[connectionID] = 0
				m.mu.Unlock()
				m.setStatus(ctx, connectionID, models.ConnectionConnected, false)
				m.metrics.recordInit("success")
				settle(true)
				log.Info().Msg("session ready")

			case transport.LifecycleAuthFailure:
				log.Error().Err(event.Err).Msg("session authentication failed")
				m.metrics.recordInit("auth_failure")
				settle(false)
				m.teardown(connectionID, client, false)
				return

			case transport.LifecycleDisconnected:
				if !settled {
					// dropped before ever becoming ready
					m.metrics.recordInit("error")
					settle(false)
					m.teardown(connectionID, client, false)
					return
				}
				log.Warn().Msg("session dropped by provider")
				m.recordFailure(connectionID)
				m.teardown(connectionID, client, false)
				return
			}

		case msg, ok := <-client.Inbound():
			if !ok {
				return
			}
			if h := m.currentHandler(); h != nil {
				h.HandleInbound(ctx, connectionID, msg)
			}

		case ack, ok := <-client.Acks():
			if !ok {
				return
			}
			if h := m.currentHandler(); h != nil {
				h.HandleAck(ctx, connectionID, ack)
			}
		}
	}
}

// SendText delivers a text through the connection's session, retrying
// transient failures twice. A successful send proves the session is
// healthy, so the critical counter resets; a fatal failure counts
// against it instead.
func (m *Manager) SendText(ctx context.Context, connectionID int64, to, body string) (string, error) {
	client, ok := m.registry.get(connectionID)
	if !ok {
		return "", ErrNotRegistered
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		id, err := client.SendMessage(ctx, to, body)
		if err == nil {
			m.mu.Lock()
			m.critical[connectionID] = 0
			m.mu.Unlock()
			return id, nil
		}
		lastErr = err
		if transport.IsFatal(err) {
			break
		}
	}
	m.metrics.sendFailures.Inc()
	if transport.IsFatal(lastErr) {
		m.recordCriticalError(ctx, connectionID, client)
	}
	return "", fmt.Errorf("failed to send to %s: %w", to, lastErr)
}

// recordCriticalError counts a fatal send failure against the
// connection. At the threshold the provider state is probed once more:
// a session that still reports connected had one noisy call, not a
// dead client, and gets its counter reset instead of a teardown.
func (m *Manager) recordCriticalError(ctx context.Context, connectionID int64, client transport.Client) {
	m.mu.Lock()
	m.critical[connectionID]++
	count := m.critical[connectionID]
	m.mu.Unlock()

	if count < m.cfg.CriticalThreshold {
		return
	}

	if state, err := client.GetState(ctx); err == nil && state == transport.StateConnected {
		m.mu.Lock()
		m.critical[connectionID] = 0
		m.mu.Unlock()
		m.logger.Info().Int64("connection_id", connectionID).Msg("session recovered before critical teardown")
		return
	}

	m.metrics.criticalTrips.Inc()
	m.logger.Error().
		Int64("connection_id", connectionID).
		Int("threshold", m.cfg.CriticalThreshold).
		Msg("critical error threshold reached, tearing session down")
	m.teardown(connectionID, client, false)
}

// Disconnect logs the device out and destroys the session. Idempotent.
func (m *Manager) Disconnect(ctx context.Context, connectionID int64) error {
	client, ok := m.registry.get(connectionID)
	if !ok {
		return m.setStatusErr(ctx, connectionID, models.ConnectionDisconnected)
	}
	if err := client.Logout(ctx); err != nil {
		m.logger.Warn().Err(err).Int64("connection_id", connectionID).Msg("logout failed, destroying anyway")
	}
	m.teardown(connectionID, client, true)
	return nil
}

// Abort destroys the session without unpairing the device, for stuck
// initializations. Idempotent.
func (m *Manager) Abort(ctx context.Context, connectionID int64) error {
	client, ok := m.registry.get(connectionID)
	if !ok {
		return m.setStatusErr(ctx, connectionID, models.ConnectionDisconnected)
	}
	m.teardown(connectionID, client, true)
	return nil
}

// RestoreSessions restarts sessions for connections that were live
// before the process stopped.
func (m *Manager) RestoreSessions(ctx context.Context) {
	connections, err := m.connections.List(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list connections for restore")
		return
	}
	for _, c := range connections {
		if c.Status == models.ConnectionDisconnected {
			continue
		}
		// stale QR_PENDING from the previous run cannot resume
		if err := m.StartSession(ctx, c.ID); err != nil {
			m.logger.Warn().Err(err).Int64("connection_id", c.ID).Msg("session restore failed")
		}
	}
}

// Shutdown destroys every live session without unpairing.
func (m *Manager) Shutdown(ctx context.Context) {
	connections, err := m.connections.List(ctx)
	if err == nil {
		for _, c := range connections {
			if client, ok := m.registry.remove(c.ID); ok {
				_ = client.Destroy()
				_ = m.connections.UpdateStatus(ctx, c.ID, models.ConnectionDisconnected)
			}
		}
	}
	m.metrics.activeClients.Set(float64(m.registry.size()))
}

func (m *Manager) currentHandler() InboundHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// finishInit clears the single-flight guard and records the failure
// for backoff accounting.
func (m *Manager) finishInit(connectionID int64, success bool) {
	m.mu.Lock()
	delete(m.initializing, connectionID)
	if success {
		delete(m.failures, connectionID)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.recordFailure(connectionID)
}

// recordFailure charges one failure against the backoff budget.
// Init errors, timeouts and provider drops all land here.
func (m *Manager) recordFailure(connectionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.failures[connectionID]
	rec.count++
	rec.last = time.Now()
	m.failures[connectionID] = rec
}

// teardown destroys the client, drops the registry entry and moves
// the connection to DISCONNECTED. clearFailures distinguishes an
// operator-requested stop from an error path.
func (m *Manager) teardown(connectionID int64, client transport.Client, clearFailures bool) {
	current := m.registry.removeIf(connectionID, client)
	_ = client.Destroy()
	m.metrics.activeClients.Set(float64(m.registry.size()))

	if clearFailures {
		m.mu.Lock()
		delete(m.failures, connectionID)
		delete(m.critical, connectionID)
		delete(m.initializing, connectionID)
		m.mu.Unlock()
	}
	// A replacement client already took over; its run loop owns the
	// QR cache and status from here.
	if !current {
		return
	}
	m.qr.Drop(connectionID)
	m.setStatus(context.Background(), connectionID, models.ConnectionDisconnected, false)
}

func (m *Manager) setStatus(ctx context.Context, connectionID int64, status models.ConnectionStatus, qrAvailable bool) {
	if err := m.setStatusErr(ctx, connectionID, status); err != nil {
		m.logger.Error().Err(err).Int64("connection_id", connectionID).Msg("failed to persist connection status")
		return
	}
	_ = notifications.GetHub().Publish(ctx, notifications.NewEvent(
		notifications.EventConnectionUpdate,
		notifications.ConnectionUpdatePayload{
			ConnectionID: connectionID,
			Status:       string(status),
			QRAvailable:  qrAvailable,
		},
	))
}

func (m *Manager) setStatusErr(ctx context.Context, connectionID int64, status models.ConnectionStatus) error {
	return m.connections.UpdateStatus(ctx, connectionID, status)
}

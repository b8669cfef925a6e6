package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk-io/zapdesk-ce/internal/config"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
	"github.com/zapdesk-io/zapdesk-ce/internal/transport"
)

type fakeFactory struct {
	mu      sync.Mutex
	clients []*transport.FakeClient
	next    *transport.FakeClient
}

func (f *fakeFactory) build(int64) (transport.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client := f.next
	if client == nil {
		client = transport.NewFakeClient()
	}
	f.next = nil
	f.clients = append(f.clients, client)
	return client, nil
}

func (f *fakeFactory) last() *transport.FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

func testSessionConfig() config.SessionConfig {
	cfg := config.DefaultSession()
	cfg.InitTimeout = 500 * time.Millisecond
	cfg.BackoffWindow = time.Minute
	cfg.MaxInitRetries = 2
	cfg.CriticalThreshold = 3
	return cfg
}

func newTestManager(t *testing.T, cfg config.SessionConfig) (*Manager, *repository.ConnectionMemoryRepository, *fakeFactory) {
	t.Helper()
	conns := repository.NewConnectionMemoryRepository(&models.Connection{
		ID:     1,
		Name:   "main line",
		Status: models.ConnectionDisconnected,
	})
	factory := &fakeFactory{}
	m := NewManager(cfg, conns, factory.build, zerolog.Nop())
	return m, conns, factory
}

func connStatus(t *testing.T, conns *repository.ConnectionMemoryRepository, id int64) models.ConnectionStatus {
	t.Helper()
	c, err := conns.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func TestStartSessionSingleFlight(t *testing.T) {
	m, _, factory := newTestManager(t, testSessionConfig())
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, 1))
	assert.ErrorIs(t, m.StartSession(ctx, 1), ErrInitInProgress)
	assert.Equal(t, 1, factory.last().InitCount())
}

func TestStartSessionUnknownConnection(t *testing.T) {
	m, _, _ := newTestManager(t, testSessionConfig())
	err := m.StartSession(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStartSessionReadyFlow(t *testing.T) {
	m, conns, factory := newTestManager(t, testSessionConfig())
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, 1))
	client := factory.last()

	client.EmitLifecycle(transport.LifecycleEvent{Kind: transport.LifecycleQR, Data: "pair-me"})
	require.Eventually(t, func() bool {
		return connStatus(t, conns, 1) == models.ConnectionQRPending
	}, time.Second, 10*time.Millisecond)

	code, ok := m.QR(1)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(code, "data:image/png;base64,"))

	client.EmitLifecycle(transport.LifecycleEvent{Kind: transport.LifecycleAuthenticated})
	client.EmitLifecycle(transport.LifecycleEvent{Kind: transport.LifecycleReady})
	require.Eventually(t, func() bool {
		return connStatus(t, conns, 1) == models.ConnectionConnected
	}, time.Second, 10*time.Millisecond)

	// pairing code is gone once the session is up
	_, ok = m.QR(1)
	assert.False(t, ok)

	// starting a connected session is a no-op
	require.NoError(t, m.StartSession(ctx, 1))
	assert.Equal(t, 1, client.InitCount())
}

func TestStartSessionBackoffAfterFailures(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxInitRetries = 2
	m, _, factory := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		failing := transport.NewFakeClient()
		failing.FailInitWith(errors.New("dial refused"))
		factory.mu.Lock()
		factory.next = failing
		factory.mu.Unlock()
		require.Error(t, m.StartSession(ctx, 1))
	}

	err := m.StartSession(ctx, 1)
	assert.ErrorIs(t, err, ErrBackoff)
}

func TestStartSessionInitTimeoutDestroysClient(t *testing.T) {
	cfg := testSessionConfig()
	cfg.InitTimeout = 50 * time.Millisecond
	m, conns, factory := newTestManager(t, cfg)
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, 1))
	client := factory.last()

	require.Eventually(t, client.Destroyed, time.Second, 10*time.Millisecond)
	assert.Equal(t, models.ConnectionDisconnected, connStatus(t, conns, 1))
	assert.False(t, m.IsActive(1))

	// the timeout counts as a failure; retry is allowed until the
	// retry budget is spent
	require.NoError(t, m.StartSession(ctx, 1))
}

func TestAuthFailureTearsDown(t *testing.T) {
	m, conns, factory := newTestManager(t, testSessionConfig())
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, 1))
	client := factory.last()
	client.EmitLifecycle(transport.LifecycleEvent{
		Kind: transport.LifecycleAuthFailure,
		Err:  transport.Fatal("device logged out", nil),
	})

	require.Eventually(t, client.Destroyed, time.Second, 10*time.Millisecond)
	assert.Equal(t, models.ConnectionDisconnected, connStatus(t, conns, 1))
}

func readySession(t *testing.T, m *Manager, factory *fakeFactory, conns *repository.ConnectionMemoryRepository) *transport.FakeClient {
	t.Helper()
	require.NoError(t, m.StartSession(context.Background(), 1))
	client := factory.last()
	client.EmitLifecycle(transport.LifecycleEvent{Kind: transport.LifecycleReady})
	require.Eventually(t, func() bool {
		return connStatus(t, conns, 1) == models.ConnectionConnected
	}, time.Second, 10*time.Millisecond)
	return client
}

func TestFatalSendFailuresTearDownAtThreshold(t *testing.T) {
	cfg := testSessionConfig()
	cfg.CriticalThreshold = 3
	m, conns, factory := newTestManager(t, cfg)
	ctx := context.Background()

	client := readySession(t, m, factory, conns)
	client.SetState(transport.StateDisconnected)
	client.FailSendsWith(
		transport.Fatal("session closed", nil),
		transport.Fatal("session closed", nil),
		transport.Fatal("session closed", nil),
	)

	for i := 0; i < 2; i++ {
		_, err := m.SendText(ctx, 1, "5511999990001", "hello")
		require.Error(t, err)
		assert.True(t, m.IsActive(1), "below the threshold the session stays up")
	}
	_, err := m.SendText(ctx, 1, "5511999990001", "hello")
	require.Error(t, err)

	assert.True(t, client.Destroyed())
	assert.False(t, m.IsActive(1))
	assert.Equal(t, models.ConnectionDisconnected, connStatus(t, conns, 1))

	_, err = m.SendText(ctx, 1, "5511999990001", "hello")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestFatalSendRecheckSparesConnectedSession(t *testing.T) {
	cfg := testSessionConfig()
	cfg.CriticalThreshold = 2
	m, conns, factory := newTestManager(t, cfg)
	ctx := context.Background()

	// provider still reports connected when the threshold probe runs
	client := readySession(t, m, factory, conns)
	client.FailSendsWith(
		transport.Fatal("noisy call", nil),
		transport.Fatal("noisy call", nil),
		transport.Fatal("noisy call", nil),
	)

	for i := 0; i < 2; i++ {
		_, err := m.SendText(ctx, 1, "5511999990001", "hello")
		require.Error(t, err)
	}
	assert.False(t, client.Destroyed(), "a reachable session must not be torn down")
	assert.True(t, m.IsActive(1))

	// the probe reset the counter, so one more failure is below the bar
	_, err := m.SendText(ctx, 1, "5511999990001", "hello")
	require.Error(t, err)
	assert.True(t, m.IsActive(1))
}

func TestSuccessfulSendResetsCriticalCounter(t *testing.T) {
	cfg := testSessionConfig()
	cfg.CriticalThreshold = 2
	m, conns, factory := newTestManager(t, cfg)
	ctx := context.Background()

	client := readySession(t, m, factory, conns)
	client.SetState(transport.StateDisconnected)

	client.FailSendsWith(transport.Fatal("session closed", nil))
	_, err := m.SendText(ctx, 1, "5511999990001", "hello")
	require.Error(t, err)

	_, err = m.SendText(ctx, 1, "5511999990001", "hello")
	require.NoError(t, err)

	client.FailSendsWith(transport.Fatal("session closed", nil))
	_, err = m.SendText(ctx, 1, "5511999990001", "hello")
	require.Error(t, err)
	assert.True(t, m.IsActive(1), "counter restarted after the successful send")
}

func TestProviderDropAfterReadyTearsDown(t *testing.T) {
	m, conns, factory := newTestManager(t, testSessionConfig())
	client := readySession(t, m, factory, conns)

	client.EmitLifecycle(transport.LifecycleEvent{Kind: transport.LifecycleDisconnected})

	require.Eventually(t, client.Destroyed, time.Second, 10*time.Millisecond)
	assert.False(t, m.IsActive(1))
	assert.Equal(t, models.ConnectionDisconnected, connStatus(t, conns, 1))

	// the drop spent one retry, not the whole backoff budget
	require.NoError(t, m.StartSession(context.Background(), 1))
}

func TestSendTextRetriesTransientFailure(t *testing.T) {
	m, conns, factory := newTestManager(t, testSessionConfig())
	client := readySession(t, m, factory, conns)

	client.FailSendsWith(errors.New("stream closed"))
	id, err := m.SendText(context.Background(), 1, "5511999990001", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, client.SentCount())
}

func TestSendTextFatalErrorDoesNotRetry(t *testing.T) {
	m, conns, factory := newTestManager(t, testSessionConfig())
	client := readySession(t, m, factory, conns)

	client.FailSendsWith(transport.Fatal("banned", nil))
	_, err := m.SendText(context.Background(), 1, "5511999990001", "hello")
	require.Error(t, err)
	assert.Zero(t, client.SentCount())
}

func TestSendTextWithoutSession(t *testing.T) {
	m, _, _ := newTestManager(t, testSessionConfig())
	_, err := m.SendText(context.Background(), 1, "5511999990001", "hello")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestDisconnectLogsOutAndIsIdempotent(t *testing.T) {
	m, conns, factory := newTestManager(t, testSessionConfig())
	client := readySession(t, m, factory, conns)
	ctx := context.Background()

	require.NoError(t, m.Disconnect(ctx, 1))
	assert.True(t, client.LoggedOut())
	assert.True(t, client.Destroyed())
	assert.Equal(t, models.ConnectionDisconnected, connStatus(t, conns, 1))

	require.NoError(t, m.Disconnect(ctx, 1))
}

func TestAbortSkipsLogout(t *testing.T) {
	m, conns, factory := newTestManager(t, testSessionConfig())
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, 1))
	client := factory.last()

	require.NoError(t, m.Abort(ctx, 1))
	assert.False(t, client.LoggedOut(), "abort must not unpair the device")
	assert.True(t, client.Destroyed())
	assert.Equal(t, models.ConnectionDisconnected, connStatus(t, conns, 1))
}

func TestRestoreSessionsSkipsDisconnected(t *testing.T) {
	conns := repository.NewConnectionMemoryRepository(
		&models.Connection{ID: 1, Name: "a", Status: models.ConnectionConnected},
		&models.Connection{ID: 2, Name: "b", Status: models.ConnectionDisconnected},
		&models.Connection{ID: 3, Name: "c", Status: models.ConnectionQRPending},
	)
	factory := &fakeFactory{}
	m := NewManager(testSessionConfig(), conns, factory.build, zerolog.Nop())

	m.RestoreSessions(context.Background())

	factory.mu.Lock()
	created := len(factory.clients)
	factory.mu.Unlock()
	assert.Equal(t, 2, created, "only previously live sessions restart")
	assert.True(t, m.IsActive(1))
	assert.False(t, m.IsActive(2))
	assert.True(t, m.IsActive(3))
}

package wbot

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/zapdesk-io/zapdesk-ce/internal/timers"
	"github.com/zapdesk-io/zapdesk-ce/internal/transport"
)

type sentText struct {
	ConnectionID int64
	To           string
	Body         string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentText
	failAll error
	nextID  int
}

func (s *fakeSender) SendText(_ context.Context, connectionID int64, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return "", s.failAll
	}
	s.nextID++
	s.sent = append(s.sent, sentText{ConnectionID: connectionID, To: to, Body: body})
	return fmt.Sprintf("WA-%d", s.nextID), nil
}

func (s *fakeSender) all() []sentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentText, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	router    *Router
	conns     *repository.ConnectionMemoryRepository
	tickets   *repository.TicketMemoryRepository
	messages  *repository.MessageMemoryRepository
	pending   *repository.PendingMemoryRepository
	cooldowns *repository.CooldownMemoryRepository
	queues    *repository.QueueMemoryRepository
	sender    *fakeSender
	registry  *timers.Registry
	cfg       config.BotConfig
}

// testBotConfig keeps the dialogue timers far away so they cannot race
// assertions; timer-focused tests use shortTimerConfig instead.
func testBotConfig() config.BotConfig {
	cfg := config.DefaultBot()
	cfg.ReminderDelay = 10 * time.Second
	cfg.FinalDelay = 20 * time.Second
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.Cooldown = time.Minute
	cfg.MaxInvalidAttempts = 3
	return cfg
}

func shortTimerConfig() config.BotConfig {
	cfg := testBotConfig()
	cfg.ReminderDelay = 40 * time.Millisecond
	cfg.FinalDelay = 120 * time.Millisecond
	return cfg
}

func newFixture(t *testing.T, conn *models.Connection) *fixture {
	t.Helper()
	return newFixtureCfg(t, conn, testBotConfig())
}

func newFixtureCfg(t *testing.T, conn *models.Connection, cfg config.BotConfig) *fixture {
	t.Helper()
	f := &fixture{
		conns:     repository.NewConnectionMemoryRepository(conn),
		tickets:   repository.NewTicketMemoryRepository(),
		messages:  repository.NewMessageMemoryRepository(),
		pending:   repository.NewPendingMemoryRepository(),
		cooldowns: repository.NewCooldownMemoryRepository(),
		queues:    repository.NewQueueMemoryRepository(),
		sender:    &fakeSender{},
		registry:  timers.NewRegistry(),
		cfg:       cfg,
	}
	t.Cleanup(f.registry.Stop)
	f.router = NewRouter(f.cfg, Stores{
		Connections: f.conns,
		Tickets:     f.tickets,
		Messages:    f.messages,
		Pending:     f.pending,
		Cooldowns:   f.cooldowns,
		Queues:      f.queues,
		Users:       repository.NewUserMemoryRepository(),
	}, f.sender, f.registry, zerolog.Nop())
	return f
}

func botConnection() *models.Connection {
	return &models.Connection{
		ID:             1,
		Name:           "main line",
		IsDefault:      true,
		ChatbotEnabled: true,
		Status:         models.ConnectionConnected,
	}
}

// addQueues attaches queues in the given order; names are chosen so
// name ordering matches insertion order.
func (f *fixture) addQueues(t *testing.T, names ...string) []*models.Queue {
	t.Helper()
	ctx := context.Background()
	out := make([]*models.Queue, 0, len(names))
	for _, name := range names {
		q := &models.Queue{Name: name}
		require.NoError(t, f.queues.Create(ctx, q))
		require.NoError(t, f.queues.AttachToConnection(ctx, q.ID, 1))
		out = append(out, q)
	}
	return out
}

func inbound(from, body string) transport.InboundMessage {
	return transport.InboundMessage{
		From:       from,
		PushName:   "Contact",
		Body:       body,
		MessageID:  "IN-" + body,
		ReceivedAt: time.Now().UTC(),
	}
}

// openDialogue drives a contact through record creation and the
// initial menu send.
func (f *fixture) openDialogue(t *testing.T, contact string) {
	t.Helper()
	f.router.HandleInbound(context.Background(), 1, inbound(contact, "hi, I need help"))
	require.Eventually(t, func() bool {
		p, err := f.pending.GetByNumber(context.Background(), contact)
		return err == nil && p.InitialSent
	}, time.Second, 5*time.Millisecond)
}

func TestNewContactGetsMenuExactlyOnce(t *testing.T) {
	f := newFixture(t, botConnection())
	f.addQueues(t, "Billing", "Sales", "Support")
	ctx := context.Background()
	contact := "5511999990001"

	// burst of rapid messages before the settle delay elapses
	f.router.HandleInbound(ctx, 1, inbound(contact, "hello"))
	f.router.HandleInbound(ctx, 1, inbound(contact, "anyone?"))
	f.router.HandleInbound(ctx, 1, inbound(contact, "hello??"))

	require.Eventually(t, func() bool {
		return f.sender.count() >= 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(3 * f.cfg.SettleDelay)

	sent := f.sender.all()
	require.Len(t, sent, 2, "greeting and menu must go out exactly once")
	assert.Contains(t, sent[0].Body, "Thanks for reaching out")
	assert.Contains(t, sent[1].Body, "1 - Billing")
	assert.Contains(t, sent[1].Body, "3 - Support")

	p, err := f.pending.GetByNumber(ctx, contact)
	require.NoError(t, err)
	assert.True(t, p.InitialSent)
	assert.Equal(t, "hello", p.FirstMessage)
}

func TestValidChoiceCreatesTicketWithChosenQueue(t *testing.T) {
	f := newFixture(t, botConnection())
	queues := f.addQueues(t, "Billing", "Sales", "Support")
	ctx := context.Background()
	contact := "5511999990002"

	f.openDialogue(t, contact)
	f.router.HandleInbound(ctx, 1, inbound(contact, "2"))

	tickets, err := f.tickets.List(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	ticket := tickets[0]
	require.NotNil(t, ticket.QueueID)
	assert.Equal(t, queues[1].ID, *ticket.QueueID, `replying "2" must pick the second queue by name order`)
	assert.NotEmpty(t, ticket.Protocol)

	// pending record resolved exactly once
	_, err = f.pending.GetByNumber(ctx, contact)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// first message migrated into the ticket
	msgs, err := f.messages.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "hi, I need help", msgs[0].Body)

	// confirmation carries the protocol number
	sent := f.sender.all()
	last := sent[len(sent)-1]
	assert.Contains(t, last.Body, ticket.Protocol)
	assert.Contains(t, last.Body, "Sales")
}

func TestHeldMessagesMigrateInOrder(t *testing.T) {
	f := newFixture(t, botConnection())
	f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990003"

	// a dialogue where two extra messages arrived before the menu went out
	require.NoError(t, f.pending.Create(ctx, &models.PendingSelection{
		ContactNumber:  contact,
		ContactName:    "Contact",
		ConnectionID:   1,
		FirstMessage:   "first",
		FirstMessageAt: time.Now().UTC(),
	}))
	for _, body := range []string{"second", "third"} {
		require.NoError(t, f.pending.AppendHeldMessage(ctx, &models.HeldMessage{
			ContactNumber: contact,
			Body:          body,
		}))
	}
	won, err := f.pending.MarkInitialSent(ctx, contact)
	require.NoError(t, err)
	require.True(t, won)

	f.router.HandleInbound(ctx, 1, inbound(contact, "1"))

	ticket, err := f.tickets.FindOpenByContact(ctx, contact, 1)
	require.NoError(t, err)
	msgs, err := f.messages.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	var bodies []string
	for _, m := range msgs {
		bodies = append(bodies, m.Body)
	}
	assert.Equal(t, []string{"first", "second", "third"}, bodies)
}

func TestThreeInvalidRepliesCloseDialogue(t *testing.T) {
	f := newFixture(t, botConnection())
	f.addQueues(t, "Billing", "Sales", "Support")
	ctx := context.Background()
	contact := "5511999990005"

	f.openDialogue(t, contact)
	before := f.sender.count()

	f.router.HandleInbound(ctx, 1, inbound(contact, "abc"))
	f.router.HandleInbound(ctx, 1, inbound(contact, "5"))
	f.router.HandleInbound(ctx, 1, inbound(contact, "0"))

	_, err := f.pending.GetByNumber(ctx, contact)
	assert.ErrorIs(t, err, repository.ErrNotFound, "record deleted after 3 invalid replies")
	assert.Zero(t, f.registry.ActiveCount(), "timers cancelled with the record")

	sent := f.sender.all()[before:]
	require.Len(t, sent, 3, "two invalid prompts and one closing message")
	assert.Contains(t, sent[0].Body, "not a valid option")
	assert.Contains(t, sent[1].Body, "not a valid option")
	assert.Contains(t, sent[2].Body, "closed")

	// no ticket was created
	tickets, err := f.tickets.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestCooldownSuppressesNewDialogue(t *testing.T) {
	f := newFixture(t, botConnection())
	f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990006"

	require.NoError(t, f.cooldowns.Arm(ctx, contact, time.Now().Add(time.Minute)))
	f.router.HandleInbound(ctx, 1, inbound(contact, "hello again"))
	time.Sleep(3 * f.cfg.SettleDelay)

	_, err := f.pending.GetByNumber(ctx, contact)
	assert.ErrorIs(t, err, repository.ErrNotFound, "no record during cooldown")
	assert.Zero(t, f.sender.count(), "no message during cooldown")
}

func TestResolvedTicketArmsCooldownAndSendsFarewell(t *testing.T) {
	f := newFixture(t, botConnection())
	ctx := context.Background()
	contact := "5511999990007"

	connID := int64(1)
	ticket := &models.Ticket{
		ContactName:   "Carla",
		ContactNumber: contact,
		ConnectionID:  &connID,
		Status:        models.TicketAttending,
	}
	require.NoError(t, f.tickets.Create(ctx, ticket))
	applied, err := f.tickets.UpdateStatus(ctx, ticket.ID, models.TicketResolved, nil)
	require.NoError(t, err)
	require.True(t, applied)
	ticket.Status = models.TicketResolved

	f.router.OnTicketResolved(ctx, ticket)

	active, err := f.cooldowns.IsActive(ctx, contact, time.Now())
	require.NoError(t, err)
	assert.True(t, active)

	sent := f.sender.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "conversation is now closed")

	// a message inside the cooldown window starts nothing
	f.router.HandleInbound(ctx, 1, inbound(contact, "thanks, bye"))
	time.Sleep(3 * f.cfg.SettleDelay)
	_, err = f.pending.GetByNumber(ctx, contact)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestChatbotDisabledNeverSpeaks(t *testing.T) {
	conn := botConnection()
	conn.ChatbotEnabled = false
	f := newFixture(t, conn)
	f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990008"

	f.router.HandleInbound(ctx, 1, inbound(contact, "hello"))
	time.Sleep(3 * f.cfg.SettleDelay)

	assert.Zero(t, f.sender.count())
	p, err := f.pending.GetByNumber(ctx, contact)
	require.NoError(t, err, "record still tracked; only sends are gated")
	assert.False(t, p.InitialSent)
}

func TestOutsideBusinessHoursNoAutomatedSends(t *testing.T) {
	conn := botConnection()
	// a one-hour window starting two hours from now is always closed
	start := time.Now().Add(2 * time.Hour).Format("15:04")
	end := time.Now().Add(3 * time.Hour).Format("15:04")
	conn.StartTime = &start
	conn.EndTime = &end
	f := newFixtureCfg(t, conn, shortTimerConfig())
	f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990009"

	f.router.HandleInbound(ctx, 1, inbound(contact, "hello"))
	time.Sleep(f.cfg.FinalDelay + 50*time.Millisecond)

	assert.Zero(t, f.sender.count(), "initial, reminder and final are all gated")
}

func TestActiveTicketMessageAppendsWithoutBot(t *testing.T) {
	f := newFixture(t, botConnection())
	f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990010"

	connID := int64(1)
	queueID := int64(1)
	userID := int64(9)
	ticket := &models.Ticket{
		ContactNumber: contact,
		ConnectionID:  &connID,
		QueueID:       &queueID,
		UserID:        &userID,
		Status:        models.TicketAttending,
	}
	require.NoError(t, f.tickets.Create(ctx, ticket))

	f.router.HandleInbound(ctx, 1, inbound(contact, "here is more detail"))

	got, err := f.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "here is more detail", got.LastMessage)
	assert.Zero(t, got.UnreadMessages, "attending tickets do not accumulate unread")

	msgs, err := f.messages.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderContact, msgs[0].Sender)
	assert.Zero(t, f.sender.count(), "no automation on an attended ticket")
}

func TestTicketWithoutQueueInterpretsChoice(t *testing.T) {
	f := newFixture(t, botConnection())
	queues := f.addQueues(t, "Billing", "Sales")
	ctx := context.Background()
	contact := "5511999990011"

	connID := int64(1)
	ticket := &models.Ticket{
		ContactNumber: contact,
		ConnectionID:  &connID,
		Status:        models.TicketPending,
	}
	require.NoError(t, f.tickets.Create(ctx, ticket))

	f.router.HandleInbound(ctx, 1, inbound(contact, "1"))

	got, err := f.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QueueID)
	assert.Equal(t, queues[0].ID, *got.QueueID)

	sent := f.sender.all()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1].Body, "Billing")
}

func TestEchoFromAgentPhoneIsRecorded(t *testing.T) {
	f := newFixture(t, botConnection())
	ctx := context.Background()
	contact := "5511999990012"

	connID := int64(1)
	queueID := int64(1)
	ticket := &models.Ticket{
		ContactNumber: contact,
		ConnectionID:  &connID,
		QueueID:       &queueID,
		Status:        models.TicketAttending,
	}
	require.NoError(t, f.tickets.Create(ctx, ticket))

	msg := inbound(contact, "I'll check that for you")
	msg.FromMe = true
	f.router.HandleInbound(ctx, 1, msg)

	msgs, err := f.messages.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.True(t, msgs[0].SentViaWhatsApp)
	assert.Zero(t, f.sender.count())
}

func TestReminderThenFinalTimeoutClosesDialogue(t *testing.T) {
	f := newFixtureCfg(t, botConnection(), shortTimerConfig())
	f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990013"

	f.openDialogue(t, contact)
	base := f.sender.count()

	require.Eventually(t, func() bool {
		return f.sender.count() >= base+1
	}, time.Second, 5*time.Millisecond, "reminder fires first")
	assert.Contains(t, f.sender.all()[base].Body, "still there")

	require.Eventually(t, func() bool {
		_, err := f.pending.GetByNumber(ctx, contact)
		return errors.Is(err, repository.ErrNotFound)
	}, time.Second, 5*time.Millisecond, "final timer deletes the record")

	sent := f.sender.all()
	assert.Contains(t, sent[len(sent)-1].Body, "closed")
}

func TestStaleTimersAreNoOpsAfterResolution(t *testing.T) {
	f := newFixtureCfg(t, botConnection(), shortTimerConfig())
	f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990014"

	f.openDialogue(t, contact)
	f.router.HandleInbound(ctx, 1, inbound(contact, "1"))

	_, err := f.pending.GetByNumber(ctx, contact)
	require.ErrorIs(t, err, repository.ErrNotFound)
	resolvedCount := f.sender.count()

	// well past both timer deadlines
	time.Sleep(f.cfg.FinalDelay + 60*time.Millisecond)
	assert.Equal(t, resolvedCount, f.sender.count(), "no reminder or closing after resolution")
}

func TestAutoAssignPicksMostRecentlyActiveAgent(t *testing.T) {
	f := newFixture(t, botConnection())
	queues := f.addQueues(t, "Support")
	ctx := context.Background()
	contact := "5511999990015"

	older := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-5 * time.Minute)
	f.queues.PutUser(&models.User{ID: 1, Name: "away", LastActiveAt: &older})
	f.queues.PutUser(&models.User{ID: 2, Name: "online", LastActiveAt: &recent})
	require.NoError(t, f.queues.AddMember(ctx, 1, queues[0].ID))
	require.NoError(t, f.queues.AddMember(ctx, 2, queues[0].ID))

	f.openDialogue(t, contact)
	f.router.HandleInbound(ctx, 1, inbound(contact, "1"))

	ticket, err := f.tickets.FindOpenByContact(ctx, contact, 1)
	require.NoError(t, err)
	require.NotNil(t, ticket.UserID)
	assert.Equal(t, int64(2), *ticket.UserID)
}

func TestSendFailureNeverBlocksPersistence(t *testing.T) {
	f := newFixture(t, botConnection())
	f.addQueues(t, "Support")
	f.sender.failAll = errors.New("session destroyed")
	ctx := context.Background()
	contact := "5511999990016"

	connID := int64(1)
	ticket := &models.Ticket{ContactNumber: contact, ConnectionID: &connID}
	require.NoError(t, f.tickets.Create(ctx, ticket))

	f.router.HandleInbound(ctx, 1, inbound(contact, "1"))

	got, err := f.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QueueID, "queue set even though the confirmation could not be sent")
	msgs, err := f.messages.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestHandleAckMarksDeliveredOnce(t *testing.T) {
	f := newFixture(t, botConnection())
	ctx := context.Background()

	msg := &models.Message{TicketID: 1, Sender: models.SenderBot, Body: "hi"}
	require.NoError(t, f.messages.Create(ctx, msg))
	require.NoError(t, f.messages.MarkSent(ctx, msg.ID, "WA-77"))

	f.router.HandleAck(ctx, 1, transport.DeliveryAck{MessageID: "WA-77", At: time.Now()})
	f.router.HandleAck(ctx, 1, transport.DeliveryAck{MessageID: "WA-77", At: time.Now()})

	msgs, err := f.messages.ListByTicket(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Delivered)
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		body  string
		n     int
		want  int
		valid bool
	}{
		{"2", 3, 2, true},
		{"  1  please", 3, 1, true},
		{"3", 3, 3, true},
		{"5", 3, 0, false},
		{"0", 3, 0, false},
		{"abc", 3, 0, false},
		{"", 3, 0, false},
		{"1", 0, 0, false},
		{"2.5", 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q/%d", tt.body, tt.n), func(t *testing.T) {
			got, ok := ParseChoice(tt.body, tt.n)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMenuTextOrdering(t *testing.T) {
	menu := menuText([]*models.Queue{{ID: 7, Name: "Billing"}, {ID: 3, Name: "Sales"}})
	lines := strings.Split(menu, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1 - Billing", lines[1])
	assert.Equal(t, "2 - Sales", lines[2])
}

// Package wbot routes inbound contact messages: into an existing
// ticket, into a queue-selection dialogue in progress, or into a new
// dialogue — with cooldown suppression, retry limits and business
// hours gating. One Router serves all connections.
package wbot

import (
	"context"
	"errors"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rs/zerolog"

	"github.com/zapdesk-io/zapdesk-ce/internal/config"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/notifications"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
	"github.com/zapdesk-io/zapdesk-ce/internal/timers"
	"github.com/zapdesk-io/zapdesk-ce/internal/transport"
)

// Sender delivers outbound texts through a live session. Sends are
// always best effort: a failure never blocks persistence.
type Sender interface {
	SendText(ctx context.Context, connectionID int64, to, body string) (string, error)
}

// Stores bundles the repositories the router reads and writes.
type Stores struct {
	Connections repository.ConnectionRepository
	Tickets     repository.TicketRepository
	Messages    repository.MessageRepository
	Pending     repository.PendingSelectionRepository
	Cooldowns   repository.CooldownRepository
	Queues      repository.QueueRepository
	Users       repository.UserRepository
}

// Router is the inbound pipeline. It implements session.InboundHandler.
type Router struct {
	cfg      config.BotConfig
	stores   Stores
	sender   Sender
	timers   *timers.Registry
	calendar *cal.BusinessCalendar
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRouter wires the inbound pipeline.
func NewRouter(cfg config.BotConfig, stores Stores, sender Sender, registry *timers.Registry, logger zerolog.Logger) *Router {
	return &Router{
		cfg:      cfg,
		stores:   stores,
		sender:   sender,
		timers:   registry,
		calendar: models.NewBusinessCalendar(),
		logger:   logger,
		now:      time.Now,
	}
}

// HandleInbound resolves exactly one path for the message: echo of an
// agent's phone reply, active ticket, pending dialogue, cooldown drop,
// or a brand-new dialogue.
func (r *Router) HandleInbound(ctx context.Context, connectionID int64, msg transport.InboundMessage) {
	log := r.logger.With().Int64("connection_id", connectionID).Str("contact", msg.From).Logger()

	conn, err := r.stores.Connections.GetByID(ctx, connectionID)
	if err != nil {
		log.Error().Err(err).Msg("inbound message for unknown connection")
		return
	}

	if msg.FromMe {
		r.handleEcho(ctx, connectionID, msg, log)
		return
	}

	ticket, err := r.stores.Tickets.FindOpenByContact(ctx, msg.From, connectionID)
	switch {
	case err == nil:
		r.handleTicketMessage(ctx, conn, ticket, msg, log)
		return
	case !errors.Is(err, repository.ErrNotFound):
		log.Error().Err(err).Msg("ticket lookup failed")
		return
	}

	pending, err := r.stores.Pending.GetByNumber(ctx, msg.From)
	switch {
	case err == nil:
		r.handlePendingMessage(ctx, conn, pending, msg, log)
		return
	case !errors.Is(err, repository.ErrNotFound):
		log.Error().Err(err).Msg("pending lookup failed")
		return
	}

	active, err := r.stores.Cooldowns.IsActive(ctx, msg.From, r.now())
	if err != nil {
		log.Error().Err(err).Msg("cooldown lookup failed")
		return
	}
	if active {
		log.Debug().Msg("contact in cooldown, message dropped")
		return
	}

	r.startDialogue(ctx, conn, msg, log)
}

// handleEcho records a reply the agent typed on the paired phone, so
// the desk transcript stays complete.
func (r *Router) handleEcho(ctx context.Context, connectionID int64, msg transport.InboundMessage, log zerolog.Logger) {
	ticket, err := r.stores.Tickets.FindOpenByContact(ctx, msg.From, connectionID)
	if err != nil {
		return
	}
	record := &models.Message{
		TicketID:        ticket.ID,
		Sender:          models.SenderUser,
		Body:            msg.Body,
		SentViaWhatsApp: true,
		WAMessageID:     msg.MessageID,
	}
	if err := r.stores.Messages.Create(ctx, record); err != nil {
		log.Error().Err(err).Msg("failed to persist echo message")
		return
	}
	r.publishNewMessage(ctx, record)
}

// handleTicketMessage appends the message to the ticket; while the
// ticket has no queue yet, replies are still interpreted as menu
// choices.
func (r *Router) handleTicketMessage(ctx context.Context, conn *models.Connection, ticket *models.Ticket, msg transport.InboundMessage, log zerolog.Logger) {
	record := &models.Message{
		TicketID: ticket.ID,
		Sender:   models.SenderContact,
		Body:     msg.Body,
	}
	if err := r.stores.Messages.Create(ctx, record); err != nil {
		log.Error().Err(err).Msg("failed to persist contact message")
		return
	}
	incrementUnread := ticket.Status != models.TicketAttending
	if err := r.stores.Tickets.RegisterContactMessage(ctx, ticket.ID, msg.Body, incrementUnread); err != nil {
		log.Error().Err(err).Msg("failed to register contact message")
	}
	r.publishNewMessage(ctx, record)

	if ticket.QueueID != nil || ticket.IsManual {
		return
	}
	r.interpretTicketChoice(ctx, conn, ticket, msg, log)
}

func (r *Router) interpretTicketChoice(ctx context.Context, conn *models.Connection, ticket *models.Ticket, msg transport.InboundMessage, log zerolog.Logger) {
	queues, err := r.stores.Queues.ListByConnection(ctx, conn.ID)
	if err != nil || len(queues) == 0 {
		return
	}
	if choice, ok := ParseChoice(msg.Body, len(queues)); ok {
		queue := queues[choice-1]
		if err := r.stores.Tickets.SetQueue(ctx, ticket.ID, queue.ID); err != nil {
			log.Error().Err(err).Msg("failed to set ticket queue")
			return
		}
		r.autoAssign(ctx, ticket, queue, log)
		r.send(ctx, conn.ID, msg.From, confirmationText(queue.Name, ticket.Protocol), log)
		return
	}

	attempts := ticket.InvalidAttempts + 1
	if err := r.stores.Tickets.SetInvalidAttempts(ctx, ticket.ID, attempts); err != nil {
		log.Error().Err(err).Msg("failed to bump ticket invalid attempts")
	}
	if attempts < r.cfg.MaxInvalidAttempts && r.botMaySpeak(conn) {
		r.send(ctx, conn.ID, msg.From, invalidChoiceText, log)
	}
}

// handlePendingMessage advances the queue-selection dialogue.
func (r *Router) handlePendingMessage(ctx context.Context, conn *models.Connection, pending *models.PendingSelection, msg transport.InboundMessage, log zerolog.Logger) {
	if !pending.InitialSent {
		// dialogue still settling: park the message and try to get the
		// menu out once
		if err := r.stores.Pending.AppendHeldMessage(ctx, &models.HeldMessage{
			ContactNumber: msg.From,
			Body:          msg.Body,
			WAMessageID:   msg.MessageID,
			ReceivedAt:    msg.ReceivedAt,
		}); err != nil {
			log.Error().Err(err).Msg("failed to hold pending message")
		}
		r.sendInitial(ctx, conn.ID, msg.From, log)
		return
	}

	queues, err := r.stores.Queues.ListByConnection(ctx, conn.ID)
	if err != nil {
		log.Error().Err(err).Msg("queue lookup failed")
		return
	}

	if choice, ok := ParseChoice(msg.Body, len(queues)); ok {
		r.materializeTicket(ctx, conn, pending, queues[choice-1], msg, log)
		return
	}

	attempts, err := r.stores.Pending.IncrementInvalidAttempts(ctx, msg.From)
	if err != nil {
		log.Error().Err(err).Msg("failed to bump invalid attempts")
		return
	}
	if attempts >= r.cfg.MaxInvalidAttempts {
		r.timers.Cancel(msg.From)
		if _, err := r.stores.Pending.Delete(ctx, msg.From); err != nil {
			log.Error().Err(err).Msg("failed to delete pending selection")
		}
		if r.botMaySpeak(conn) {
			r.send(ctx, conn.ID, msg.From, closedInvalidText, log)
		}
		log.Info().Int("attempts", attempts).Msg("dialogue closed after invalid replies")
		return
	}
	if r.botMaySpeak(conn) {
		r.send(ctx, conn.ID, msg.From, invalidChoiceText, log)
	}
}

// materializeTicket converts the dialogue into a real ticket, carrying
// the held messages over in arrival order. The pending record is
// deleted exactly once on every path out of here.
func (r *Router) materializeTicket(ctx context.Context, conn *models.Connection, pending *models.PendingSelection, queue *models.Queue, msg transport.InboundMessage, log zerolog.Logger) {
	r.timers.Cancel(msg.From)

	name := pending.ContactName
	if name == "" {
		name = msg.PushName
	}
	connID := conn.ID
	queueID := queue.ID
	ticket := &models.Ticket{
		ContactName:   name,
		ContactNumber: msg.From,
		Status:        models.TicketPending,
		ConnectionID:  &connID,
		QueueID:       &queueID,
	}
	err := r.stores.Tickets.Create(ctx, ticket)
	if errors.Is(err, repository.ErrConflict) {
		// raced another path that already claimed the contact
		existing, lookupErr := r.stores.Tickets.FindOpenByContact(ctx, msg.From, conn.ID)
		if lookupErr != nil {
			log.Error().Err(lookupErr).Msg("conflicting ticket vanished")
			return
		}
		ticket = existing
	} else if err != nil {
		log.Error().Err(err).Msg("failed to create ticket from dialogue")
		return
	}

	migrated := []*models.Message{{
		TicketID:  ticket.ID,
		Sender:    models.SenderContact,
		Body:      pending.FirstMessage,
		CreatedAt: pending.FirstMessageAt,
	}}
	held, err := r.stores.Pending.TakeHeldMessages(ctx, msg.From)
	if err != nil {
		log.Error().Err(err).Msg("failed to drain held messages")
	}
	for _, hm := range held {
		migrated = append(migrated, &models.Message{
			TicketID:  ticket.ID,
			Sender:    models.SenderContact,
			Body:      hm.Body,
			CreatedAt: hm.ReceivedAt,
		})
	}
	lastBody := ""
	for _, record := range migrated {
		if record.Body == "" {
			continue
		}
		if err := r.stores.Messages.Create(ctx, record); err != nil {
			log.Error().Err(err).Msg("failed to migrate held message")
			continue
		}
		lastBody = record.Body
	}
	if lastBody != "" {
		if err := r.stores.Tickets.RegisterContactMessage(ctx, ticket.ID, lastBody, true); err != nil {
			log.Error().Err(err).Msg("failed to register migrated message")
		}
	}

	if _, err := r.stores.Pending.Delete(ctx, msg.From); err != nil {
		log.Error().Err(err).Msg("failed to delete pending selection")
	}

	r.autoAssign(ctx, ticket, queue, log)
	r.send(ctx, conn.ID, msg.From, confirmationText(queue.Name, ticket.Protocol), log)
	log.Info().Int64("ticket_id", ticket.ID).Str("queue", queue.Name).Msg("dialogue resolved into ticket")
}

// startDialogue opens a fresh queue-selection dialogue: record, timer
// pair, and a settle-delayed initial send so a burst of rapid messages
// produces one menu, not several.
func (r *Router) startDialogue(ctx context.Context, conn *models.Connection, msg transport.InboundMessage, log zerolog.Logger) {
	pending := &models.PendingSelection{
		ContactNumber:  msg.From,
		ContactName:    msg.PushName,
		ConnectionID:   conn.ID,
		FirstMessage:   msg.Body,
		FirstMessageAt: msg.ReceivedAt,
	}
	err := r.stores.Pending.Create(ctx, pending)
	if errors.Is(err, repository.ErrConflict) {
		// another message won the race; park this one
		_ = r.stores.Pending.AppendHeldMessage(ctx, &models.HeldMessage{
			ContactNumber: msg.From,
			Body:          msg.Body,
			WAMessageID:   msg.MessageID,
			ReceivedAt:    msg.ReceivedAt,
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to create pending selection")
		return
	}

	connectionID := conn.ID
	r.timers.Schedule(msg.From, r.cfg.ReminderDelay, r.cfg.FinalDelay,
		func(contact string, _ uint64) { r.onReminder(connectionID, contact) },
		func(contact string, _ uint64) { r.onFinal(connectionID, contact) },
	)

	contact := msg.From
	time.AfterFunc(r.cfg.SettleDelay, func() {
		r.sendInitial(context.Background(), connectionID, contact, log)
	})
	log.Info().Msg("queue-selection dialogue started")
}

// sendInitial delivers the greeting and department menu at most once
// per dialogue. The initial_sent flag is the race arbiter: whichever
// caller flips it first sends; everyone else backs off.
func (r *Router) sendInitial(ctx context.Context, connectionID int64, contact string, log zerolog.Logger) {
	pending, err := r.stores.Pending.GetByNumber(ctx, contact)
	if err != nil {
		return // dialogue already resolved or closed
	}
	if pending.InitialSent {
		return
	}
	conn, err := r.stores.Connections.GetByID(ctx, connectionID)
	if err != nil {
		return
	}
	if !r.botMaySpeak(conn) {
		return // flag stays down; a later message inside hours retries
	}
	queues, err := r.stores.Queues.ListByConnection(ctx, connectionID)
	if err != nil || len(queues) == 0 {
		return
	}

	won, err := r.stores.Pending.MarkInitialSent(ctx, contact)
	if err != nil {
		log.Error().Err(err).Msg("failed to mark initial sent")
		return
	}
	if !won {
		return
	}
	r.send(ctx, connectionID, contact, greetingText(conn, pending.ContactName), log)
	r.send(ctx, connectionID, contact, menuText(queues), log)
}

// onReminder nudges a silent contact. The record is re-checked at fire
// time: timers are not cancelled synchronously from every path.
func (r *Router) onReminder(connectionID int64, contact string) {
	ctx := context.Background()
	pending, err := r.stores.Pending.GetByNumber(ctx, contact)
	if err != nil || !pending.InitialSent {
		return
	}
	conn, err := r.stores.Connections.GetByID(ctx, connectionID)
	if err != nil || !r.botMaySpeak(conn) {
		return
	}
	r.send(ctx, connectionID, contact, reminderText, r.logger)
}

// onFinal closes a dialogue nobody answered.
func (r *Router) onFinal(connectionID int64, contact string) {
	ctx := context.Background()
	pending, err := r.stores.Pending.GetByNumber(ctx, contact)
	if err != nil {
		return
	}
	existed, err := r.stores.Pending.Delete(ctx, contact)
	if err != nil || !existed {
		return
	}
	r.timers.Cancel(contact)
	conn, err := r.stores.Connections.GetByID(ctx, connectionID)
	if err == nil && r.botMaySpeak(conn) && pending.InitialSent {
		r.send(ctx, connectionID, contact, closedTimeoutText, r.logger)
	}
	r.logger.Info().Str("contact", contact).Msg("dialogue closed by timeout")
}

// OnTicketResolved arms the bot cooldown for the contact and sends the
// farewell. Called by the API layer after a resolve transition applies.
func (r *Router) OnTicketResolved(ctx context.Context, ticket *models.Ticket) {
	r.timers.Cancel(ticket.ContactNumber)
	until := r.now().Add(r.cfg.Cooldown)
	if err := r.stores.Cooldowns.Arm(ctx, ticket.ContactNumber, until); err != nil {
		r.logger.Error().Err(err).Msg("failed to arm cooldown")
	}
	if ticket.ConnectionID == nil {
		return
	}
	conn, err := r.stores.Connections.GetByID(ctx, *ticket.ConnectionID)
	if err != nil {
		return
	}
	waID, err := r.sender.SendText(ctx, conn.ID, ticket.ContactNumber, farewellText(conn))
	if err != nil {
		r.logger.Warn().Err(err).Int64("ticket_id", ticket.ID).Msg("farewell send failed")
		return
	}
	record := &models.Message{
		TicketID:        ticket.ID,
		Sender:          models.SenderBot,
		Body:            farewellText(conn),
		SentViaWhatsApp: true,
		WAMessageID:     waID,
	}
	if err := r.stores.Messages.Create(ctx, record); err == nil {
		r.publishNewMessage(ctx, record)
	}
}

// HandleAck marks a message delivered, once.
func (r *Router) HandleAck(ctx context.Context, _ int64, ack transport.DeliveryAck) {
	id, applied, err := r.stores.Messages.MarkDelivered(ctx, ack.MessageID)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to mark message delivered")
		return
	}
	if !applied {
		return
	}
	_ = notifications.GetHub().Publish(ctx, notifications.NewEvent(
		notifications.EventMessageUpdate,
		notifications.MessagePayload{MessageID: id, Delivered: true},
	))
}

// autoAssign routes the ticket to the queue member with the freshest
// session activity, if any.
func (r *Router) autoAssign(ctx context.Context, ticket *models.Ticket, queue *models.Queue, log zerolog.Logger) {
	payload := notifications.TicketUpdatePayload{
		TicketID: ticket.ID,
		Status:   string(ticket.Status),
		QueueID:  &queue.ID,
		Protocol: ticket.Protocol,
	}
	agent, err := r.stores.Queues.FindEligibleAgent(ctx, queue.ID)
	if err == nil {
		if err := r.stores.Tickets.AssignUser(ctx, ticket.ID, agent.ID); err != nil {
			log.Error().Err(err).Msg("failed to auto-assign agent")
		} else {
			payload.UserID = &agent.ID
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Error().Err(err).Msg("agent lookup failed")
	}
	_ = notifications.GetHub().Publish(ctx, notifications.NewEvent(notifications.EventTicketUpdate, payload))
}

// send is the single best-effort outbound path for bot traffic.
func (r *Router) send(ctx context.Context, connectionID int64, to, body string, log zerolog.Logger) {
	if _, err := r.sender.SendText(ctx, connectionID, to, body); err != nil {
		log.Warn().Err(err).Msg("bot send failed")
	}
}

func (r *Router) publishNewMessage(ctx context.Context, m *models.Message) {
	_ = notifications.GetHub().Publish(ctx, notifications.NewEvent(
		notifications.EventNewMessage,
		notifications.MessagePayload{
			MessageID: m.ID,
			TicketID:  m.TicketID,
			Sender:    string(m.Sender),
			Body:      m.Body,
			Delivered: m.Delivered,
		},
	))
}

// botMaySpeak gates every automated send: the connection must run the
// bot and the clock must be inside its business-hours window.
func (r *Router) botMaySpeak(c *models.Connection) bool {
	return c.IsDefault && c.ChatbotEnabled && c.WithinBusinessHours(r.now(), r.calendar)
}

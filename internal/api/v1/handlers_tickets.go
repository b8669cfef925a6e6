package v1

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zapdesk-io/zapdesk-ce/internal/apierrors"
	"github.com/zapdesk-io/zapdesk-ce/internal/middleware"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/notifications"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
)

func (router *APIRouter) handleListTickets(c *gin.Context) {
	status := models.TicketStatus(c.Query("status"))
	switch status {
	case "", models.TicketPending, models.TicketAttending, models.TicketResolved:
	default:
		apierrors.Error(c, apierrors.CodeTicketInvalidStatus)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tickets, err := router.stores.Tickets.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		router.logger.Error().Err(err).Msg("failed to list tickets")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, tickets)
}

func (router *APIRouter) handleGetTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ticket, err := router.stores.Tickets.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, ticket)
}

// handleCreateTicket opens a manual ticket on behalf of an agent. The
// unique open-ticket rule still applies: a contact with an open ticket
// anywhere cannot get a second one.
func (router *APIRouter) handleCreateTicket(c *gin.Context) {
	userID, _, ok := middleware.GetCurrentUser(c)
	if !ok {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}
	var req struct {
		ContactName   string `json:"contact_name"`
		ContactNumber string `json:"contact_number" binding:"required"`
		QueueID       *int64 `json:"queue_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}
	req.ContactNumber = strings.TrimSpace(req.ContactNumber)
	if req.ContactNumber == "" {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "Contact number must not be blank")
		return
	}

	ctx := c.Request.Context()
	if req.QueueID != nil {
		if _, err := router.stores.Queues.GetByID(ctx, *req.QueueID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				apierrors.ErrorWithMessage(c, apierrors.CodeNotFound, "Queue not found")
				return
			}
			apierrors.Error(c, apierrors.CodeInternalError)
			return
		}
	}

	ticket := &models.Ticket{
		ContactName:   req.ContactName,
		ContactNumber: req.ContactNumber,
		Status:        models.TicketPending,
		IsManual:      true,
		UserID:        &userID,
		QueueID:       req.QueueID,
	}
	if err := router.stores.Tickets.Create(ctx, ticket); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.Error(c, apierrors.CodeTicketAlreadyOpen)
			return
		}
		router.logger.Error().Err(err).Msg("failed to create manual ticket")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	router.publishTicketUpdate(ctx, ticket)
	sendCreated(c, ticket)
}

type ticketStatusRequest struct {
	Status models.TicketStatus `json:"status" binding:"required"`
}

// handleUpdateTicketStatus applies an agent-driven status transition.
// Agents must belong to the ticket's queue; unqueued tickets are only
// mutable by their assigned agent. A repeat of the current status is
// an idempotent no-op.
func (router *APIRouter) handleUpdateTicketStatus(c *gin.Context) {
	userID, _, okUser := middleware.GetCurrentUser(c)
	if !okUser {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ticketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}
	switch req.Status {
	case models.TicketPending, models.TicketAttending, models.TicketResolved:
	default:
		apierrors.Error(c, apierrors.CodeTicketInvalidStatus)
		return
	}

	ctx := c.Request.Context()
	ticket, err := router.stores.Tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	if !router.authorizeTicket(c, ticket, userID) {
		return
	}

	// Attending claims the ticket for the caller when unassigned.
	var assignTo *int64
	if req.Status == models.TicketAttending && ticket.UserID == nil {
		assignTo = &userID
	}

	applied, err := router.stores.Tickets.UpdateStatus(ctx, id, req.Status, assignTo)
	if err != nil {
		router.logger.Error().Err(err).Int64("ticket_id", id).Msg("status update failed")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if applied {
		updated, err := router.stores.Tickets.GetByID(ctx, id)
		if err == nil {
			ticket = updated
		}
		if req.Status == models.TicketResolved && router.resolver != nil {
			router.resolver.OnTicketResolved(ctx, ticket)
		}
		router.publishTicketUpdate(ctx, ticket)
	}
	if err := router.stores.Users.TouchActivity(ctx, userID, time.Now()); err != nil {
		router.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to stamp agent activity")
	}

	sendSuccess(c, gin.H{"ticket": ticket, "applied": applied})
}

func (router *APIRouter) handleListMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := router.stores.Tickets.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	messages, err := router.stores.Messages.ListByTicket(ctx, id)
	if err != nil {
		router.logger.Error().Err(err).Int64("ticket_id", id).Msg("failed to list messages")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if err := router.stores.Tickets.ResetUnread(ctx, id); err != nil {
		router.logger.Warn().Err(err).Int64("ticket_id", id).Msg("failed to reset unread counter")
	}
	sendSuccess(c, messages)
}

// handleSendMessage records an agent reply and relays it to the
// contact through the connection's session. The reply is persisted
// even when the transport send fails.
func (router *APIRouter) handleSendMessage(c *gin.Context) {
	userID, _, okUser := middleware.GetCurrentUser(c)
	if !okUser {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	ticket, err := router.stores.Tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	if ticket.Status == models.TicketResolved {
		apierrors.ErrorWithMessage(c, apierrors.CodeTicketInvalidStatus, "Cannot reply to a resolved ticket")
		return
	}
	if !router.authorizeTicket(c, ticket, userID) {
		return
	}

	// First reply moves a pending ticket into attendance.
	if ticket.Status == models.TicketPending {
		assignTo := ticket.UserID
		if assignTo == nil {
			assignTo = &userID
		}
		if _, err := router.stores.Tickets.UpdateStatus(ctx, id, models.TicketAttending, assignTo); err != nil {
			router.logger.Warn().Err(err).Int64("ticket_id", id).Msg("failed to move ticket to attending")
		}
	}

	var waMessageID string
	sent := false
	if ticket.ConnectionID != nil {
		waMessageID, err = router.sessions.SendText(ctx, *ticket.ConnectionID, ticket.ContactNumber, req.Body)
		if err != nil {
			router.logger.Error().Err(err).Int64("ticket_id", id).Msg("agent reply transport send failed")
		} else {
			sent = true
		}
	}

	message := &models.Message{
		TicketID:        id,
		Sender:          models.SenderUser,
		Body:            req.Body,
		SentViaWhatsApp: sent,
		WAMessageID:     waMessageID,
	}
	if err := router.stores.Messages.Create(ctx, message); err != nil {
		router.logger.Error().Err(err).Int64("ticket_id", id).Msg("failed to persist agent reply")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if err := router.stores.Users.TouchActivity(ctx, userID, time.Now()); err != nil {
		router.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to stamp agent activity")
	}
	router.publishNewMessage(ctx, message)

	sendCreated(c, gin.H{"message": message, "sent": sent})
}

// authorizeTicket enforces the queue-membership policy: tickets routed
// to a queue may only be worked by that queue's members, and unqueued
// tickets only by their assigned agent.
func (router *APIRouter) authorizeTicket(c *gin.Context, ticket *models.Ticket, userID int64) bool {
	ctx := c.Request.Context()
	if ticket.QueueID != nil {
		member, err := router.stores.Queues.IsMember(ctx, userID, *ticket.QueueID)
		if err != nil {
			router.logger.Error().Err(err).Int64("ticket_id", ticket.ID).Msg("membership check failed")
			apierrors.Error(c, apierrors.CodeInternalError)
			return false
		}
		if !member {
			apierrors.Error(c, apierrors.CodeTicketNotMember)
			return false
		}
		return true
	}
	if ticket.UserID != nil && *ticket.UserID != userID {
		apierrors.Error(c, apierrors.CodeForbidden)
		return false
	}
	return true
}

func (router *APIRouter) publishTicketUpdate(ctx context.Context, ticket *models.Ticket) {
	if router.hub == nil {
		return
	}
	_ = router.hub.Publish(ctx, notifications.NewEvent(notifications.EventTicketUpdate, notifications.TicketUpdatePayload{
		TicketID: ticket.ID,
		Status:   string(ticket.Status),
		QueueID:  ticket.QueueID,
		UserID:   ticket.UserID,
		Protocol: ticket.Protocol,
	}))
}

func (router *APIRouter) publishNewMessage(ctx context.Context, m *models.Message) {
	if router.hub == nil {
		return
	}
	_ = router.hub.Publish(ctx, notifications.NewEvent(notifications.EventNewMessage, notifications.MessagePayload{
		MessageID: m.ID,
		TicketID:  m.TicketID,
		Sender:    string(m.Sender),
		Body:      m.Body,
		Delivered: m.Delivered,
	}))
}

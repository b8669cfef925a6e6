package v1

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zapdesk-io/zapdesk-ce/internal/apierrors"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
)

func (router *APIRouter) handleListQueues(c *gin.Context) {
	queues, err := router.stores.Queues.List(c.Request.Context())
	if err != nil {
		router.logger.Error().Err(err).Msg("failed to list queues")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, queues)
}

func (router *APIRouter) handleCreateQueue(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "Queue name must not be blank")
		return
	}

	queue := &models.Queue{Name: req.Name}
	if err := router.stores.Queues.Create(c.Request.Context(), queue); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.Error(c, apierrors.CodeConflict)
			return
		}
		router.logger.Error().Err(err).Msg("failed to create queue")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendCreated(c, queue)
}

func (router *APIRouter) handleDeleteQueue(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := router.stores.Queues.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		router.logger.Error().Err(err).Int64("queue_id", id).Msg("failed to delete queue")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, gin.H{"deleted": id})
}

// handleAddQueueMember enrolls an agent into a queue, making them
// eligible for auto-assignment and status changes on its tickets.
func (router *APIRouter) handleAddQueueMember(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	if _, err := router.stores.Queues.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	if _, err := router.stores.Users.GetByID(ctx, req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.ErrorWithMessage(c, apierrors.CodeNotFound, "User not found")
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if err := router.stores.Queues.AddMember(ctx, req.UserID, id); err != nil {
		router.logger.Error().Err(err).Int64("queue_id", id).Int64("user_id", req.UserID).Msg("failed to add queue member")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, gin.H{"queue_id": id, "user_id": req.UserID})
}

// handleAttachQueue offers a queue on a connection's selection menu.
func (router *APIRouter) handleAttachQueue(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		ConnectionID int64 `json:"connection_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	if _, err := router.stores.Queues.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	if _, err := router.stores.Connections.GetByID(ctx, req.ConnectionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.ErrorWithMessage(c, apierrors.CodeNotFound, "Connection not found")
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if err := router.stores.Queues.AttachToConnection(ctx, id, req.ConnectionID); err != nil {
		router.logger.Error().Err(err).Int64("queue_id", id).Int64("connection_id", req.ConnectionID).Msg("failed to attach queue")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, gin.H{"queue_id": id, "connection_id": req.ConnectionID})
}

// handleListConnectionQueues returns a connection's menu in the exact
// order contacts see it.
func (router *APIRouter) handleListConnectionQueues(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	queues, err := router.stores.Queues.ListByConnection(c.Request.Context(), id)
	if err != nil {
		router.logger.Error().Err(err).Int64("connection_id", id).Msg("failed to list connection queues")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, queues)
}

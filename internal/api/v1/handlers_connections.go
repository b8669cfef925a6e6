package v1

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/zapdesk-io/zapdesk-ce/internal/apierrors"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
	"github.com/zapdesk-io/zapdesk-ce/internal/session"
)

// handleListConnections returns every configured connection with its
// live session flag.
func (router *APIRouter) handleListConnections(c *gin.Context) {
	connections, err := router.stores.Connections.List(c.Request.Context())
	if err != nil {
		router.logger.Error().Err(err).Msg("failed to list connections")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	out := make([]gin.H, 0, len(connections))
	for _, conn := range connections {
		out = append(out, gin.H{
			"connection": conn,
			"active":     router.sessions.IsActive(conn.ID),
		})
	}
	sendSuccess(c, out)
}

func (router *APIRouter) handleGetConnection(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	conn, err := router.stores.Connections.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, gin.H{
		"connection": conn,
		"active":     router.sessions.IsActive(conn.ID),
	})
}

// handleConnectionQR serves the cached pairing QR as a PNG data URL.
// Clients poll this while the connection sits in QR_PENDING.
func (router *APIRouter) handleConnectionQR(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	dataURL, ok := router.sessions.QR(id)
	if !ok {
		apierrors.Error(c, apierrors.CodeSessionQRUnavailable)
		return
	}
	sendSuccess(c, gin.H{"qr": dataURL})
}

// handleStartSession kicks off connection initialization. The call
// returns once the init attempt settles; pairing continues via QR
// polling and websocket status events.
func (router *APIRouter) handleStartSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := router.sessions.StartSession(c.Request.Context(), id)
	switch {
	case err == nil:
		sendSuccess(c, gin.H{"connection_id": id, "active": router.sessions.IsActive(id)})
	case errors.Is(err, repository.ErrNotFound):
		apierrors.Error(c, apierrors.CodeNotFound)
	case errors.Is(err, session.ErrInitInProgress):
		apierrors.Error(c, apierrors.CodeSessionInitInProgress)
	case errors.Is(err, session.ErrBackoff):
		apierrors.Error(c, apierrors.CodeSessionBackoff)
	default:
		router.logger.Error().Err(err).Int64("connection_id", id).Msg("session start failed")
		apierrors.ErrorWithMessage(c, apierrors.CodeServiceUnavailable, "Connection initialization failed")
	}
}

// handleStopSession logs the connection out and tears the session down.
func (router *APIRouter) handleStopSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := router.sessions.Disconnect(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		router.logger.Error().Err(err).Int64("connection_id", id).Msg("session stop failed")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, gin.H{"connection_id": id, "active": false})
}

// handleAbortSession discards the session without logging out, keeping
// the remote pairing for a later restart.
func (router *APIRouter) handleAbortSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := router.sessions.Abort(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeNotFound)
			return
		}
		router.logger.Error().Err(err).Int64("connection_id", id).Msg("session abort failed")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, gin.H{"connection_id": id, "active": false})
}

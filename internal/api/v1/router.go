// Package v1 exposes the agent-facing REST API: authentication,
// connection lifecycle control, queue administration and ticket work.
package v1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zapdesk-io/zapdesk-ce/internal/apierrors"
	"github.com/zapdesk-io/zapdesk-ce/internal/config"
	"github.com/zapdesk-io/zapdesk-ce/internal/middleware"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/notifications"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
)

// SessionController is the slice of the session manager the API needs.
type SessionController interface {
	StartSession(ctx context.Context, connectionID int64) error
	Disconnect(ctx context.Context, connectionID int64) error
	Abort(ctx context.Context, connectionID int64) error
	QR(connectionID int64) (string, bool)
	IsActive(connectionID int64) bool
	SendText(ctx context.Context, connectionID int64, to, body string) (string, error)
}

// TicketResolver reacts to an agent resolving a ticket, arming the
// contact cooldown and sending the farewell.
type TicketResolver interface {
	OnTicketResolved(ctx context.Context, ticket *models.Ticket)
}

// Stores bundles the repositories the API reads and writes.
type Stores struct {
	Connections repository.ConnectionRepository
	Tickets     repository.TicketRepository
	Queues      repository.QueueRepository
	Messages    repository.MessageRepository
	Users       repository.UserRepository
}

// APIRouter wires the v1 endpoints onto a gin engine.
type APIRouter struct {
	auth     config.AuthConfig
	stores   Stores
	sessions SessionController
	resolver TicketResolver
	hub      notifications.Hub
	logger   zerolog.Logger
}

// NewAPIRouter creates the v1 API router.
func NewAPIRouter(auth config.AuthConfig, stores Stores, sessions SessionController, resolver TicketResolver, hub notifications.Hub, logger zerolog.Logger) *APIRouter {
	return &APIRouter{
		auth:     auth,
		stores:   stores,
		sessions: sessions,
		resolver: resolver,
		hub:      hub,
		logger:   logger,
	}
}

// RegisterRoutes mounts every endpoint. Everything under /api/v1
// except login requires a valid agent token.
func (router *APIRouter) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/healthz", router.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	api.POST("/auth/login", middleware.RateLimitByIP(60), router.handleLogin)

	authed := api.Group("", middleware.Auth(router.auth.JWTSecret), middleware.RateLimit())
	authed.GET("/me", router.handleGetCurrentUser)
	authed.GET("/ws", notifications.StreamHandler(router.hub, router.logger))

	authed.GET("/connections", router.handleListConnections)
	authed.GET("/connections/:id", router.handleGetConnection)
	authed.GET("/connections/:id/qr", router.handleConnectionQR)
	authed.POST("/connections/:id/session", router.handleStartSession)
	authed.DELETE("/connections/:id/session", router.handleStopSession)
	authed.POST("/connections/:id/session/abort", router.handleAbortSession)

	authed.GET("/queues", router.handleListQueues)
	authed.POST("/queues", router.handleCreateQueue)
	authed.DELETE("/queues/:id", router.handleDeleteQueue)
	authed.POST("/queues/:id/members", router.handleAddQueueMember)
	authed.POST("/queues/:id/connections", router.handleAttachQueue)
	authed.GET("/connections/:id/queues", router.handleListConnectionQueues)

	authed.GET("/tickets", router.handleListTickets)
	authed.POST("/tickets", router.handleCreateTicket)
	authed.GET("/tickets/:id", router.handleGetTicket)
	authed.PUT("/tickets/:id/status", router.handleUpdateTicketStatus)
	authed.GET("/tickets/:id/messages", router.handleListMessages)
	authed.POST("/tickets/:id/messages", router.handleSendMessage)
}

// sendSuccess writes the uniform success envelope.
func sendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// sendCreated writes the success envelope with a 201.
func sendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

// pathID parses the :id path parameter, replying with a 400 on junk.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return 0, false
	}
	return id, true
}

func (router *APIRouter) handleHealth(c *gin.Context) {
	sendSuccess(c, gin.H{"status": "healthy", "service": "zapdesk-api"})
}

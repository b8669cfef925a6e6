package v1

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/zapdesk-io/zapdesk-ce/internal/apierrors"
	"github.com/zapdesk-io/zapdesk-ce/internal/middleware"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// handleLogin authenticates an agent and returns a JWT.
func (router *APIRouter) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	user, err := router.stores.Users.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			return
		}
		router.logger.Error().Err(err).Msg("login lookup failed")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}

	ttl := router.auth.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	token, err := middleware.IssueToken(router.auth.JWTSecret, ttl, user)
	if err != nil {
		router.logger.Error().Err(err).Msg("token signing failed")
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if err := router.stores.Users.TouchActivity(c.Request.Context(), user.ID, time.Now()); err != nil {
		router.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to stamp agent activity")
	}

	sendSuccess(c, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

// handleGetCurrentUser returns the authenticated agent.
func (router *APIRouter) handleGetCurrentUser(c *gin.Context) {
	userID, _, ok := middleware.GetCurrentUser(c)
	if !ok {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}
	user, err := router.stores.Users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			return
		}
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	sendSuccess(c, user)
}

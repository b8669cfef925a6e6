// Package middleware holds the gin middleware shared by the agent API:
// JWT authentication and per-client rate limiting.
package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/zapdesk-io/zapdesk-ce/internal/apierrors"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

const (
	ctxUserIDKey = "auth_user_id"
	ctxEmailKey  = "auth_email"
)

// IssueToken signs a JWT for an authenticated agent.
func IssueToken(secret string, ttl time.Duration, user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"name":    user.Name,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a JWT and extracts the agent identity.
func ParseToken(secret, tokenString string) (int64, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, "", fmt.Errorf("invalid token claims")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("invalid user_id in token")
	}
	email, _ := claims["email"].(string)
	return int64(userID), email, nil
}

// Auth authenticates requests with a Bearer token. WebSocket clients
// cannot set headers from the browser, so a token query parameter is
// accepted as a fallback.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			c.Abort()
			return
		}

		userID, email, err := ParseToken(secret, tokenString)
		if err != nil {
			apierrors.Error(c, apierrors.CodeInvalidToken)
			c.Abort()
			return
		}

		c.Set(ctxUserIDKey, userID)
		c.Set(ctxEmailKey, email)
		c.Next()
	}
}

// GetCurrentUser returns the authenticated agent's id and email.
func GetCurrentUser(c *gin.Context) (int64, string, bool) {
	idVal, ok := c.Get(ctxUserIDKey)
	if !ok {
		return 0, "", false
	}
	id, ok := idVal.(int64)
	if !ok {
		return 0, "", false
	}
	return id, c.GetString(ctxEmailKey), true
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

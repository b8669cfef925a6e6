// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:unauthorized", "session:backoff").
package apierrors

import "net/http"

// Core error codes - registered automatically at init
const (
	// Authentication & Authorization
	CodeUnauthorized = "core:unauthorized"
	CodeForbidden    = "core:forbidden"
	CodeInvalidToken = "core:invalid_token"
	CodeTokenExpired = "core:token_expired"

	// Request errors
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"
	CodeInvalidID        = "core:invalid_id"

	// Resource errors
	CodeNotFound = "core:not_found"
	CodeConflict = "core:conflict"

	// Rate limiting
	CodeRateLimited = "core:rate_limited"

	// Server errors
	CodeInternalError      = "core:internal_error"
	CodeServiceUnavailable = "core:service_unavailable"
)

// Session error codes, mapped from the lifecycle manager's sentinels
const (
	CodeSessionInitInProgress = "session:init_in_progress"
	CodeSessionBackoff        = "session:backoff"
	CodeSessionNotRegistered  = "session:not_registered"
	CodeSessionQRUnavailable  = "session:qr_unavailable"
)

// Ticket error codes
const (
	CodeTicketInvalidStatus = "ticket:invalid_status"
	CodeTicketNotMember     = "ticket:not_queue_member"
	CodeTicketAlreadyOpen   = "ticket:already_open"
)

var registeredErrors = []ErrorCode{
	// Authentication & Authorization
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeForbidden, Message: "Permission denied", HTTPStatus: http.StatusForbidden},
	{Code: CodeInvalidToken, Message: "Invalid or malformed token", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeTokenExpired, Message: "Token has expired", HTTPStatus: http.StatusUnauthorized},

	// Request errors
	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidID, Message: "Invalid ID format", HTTPStatus: http.StatusBadRequest},

	// Resource errors
	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},

	// Rate limiting
	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},

	// Server errors
	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeServiceUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},

	// Session lifecycle
	{Code: CodeSessionInitInProgress, Message: "An initialization is already in progress for this connection", HTTPStatus: http.StatusConflict},
	{Code: CodeSessionBackoff, Message: "Connection is backing off after repeated failures", HTTPStatus: http.StatusTooManyRequests},
	{Code: CodeSessionNotRegistered, Message: "No active session for this connection", HTTPStatus: http.StatusConflict},
	{Code: CodeSessionQRUnavailable, Message: "No QR code is currently available", HTTPStatus: http.StatusNotFound},

	// Tickets
	{Code: CodeTicketInvalidStatus, Message: "Invalid ticket status transition", HTTPStatus: http.StatusBadRequest},
	{Code: CodeTicketNotMember, Message: "Agent is not a member of the ticket's queue", HTTPStatus: http.StatusForbidden},
	{Code: CodeTicketAlreadyOpen, Message: "Contact already has an open ticket", HTTPStatus: http.StatusConflict},
}

func init() {
	for _, e := range registeredErrors {
		Registry.Register(e)
	}
}

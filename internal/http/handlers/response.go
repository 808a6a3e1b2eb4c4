// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the shared response envelopes. Every error leaving the
// API has the same shape so sender services can branch on a stable `code`
// instead of parsing messages:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "delivery request not found"
//	}
//
// Validation failures additionally carry a per-field breakdown so callers
// can fix their payloads without guessing.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-notify-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint. RequestID
// echoes X-Request-ID so a caller's error report can be matched to server
// logs; Code is machine-readable (see errors.go), Message is for humans.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ValidationFailureResponse extends the error envelope with per-field detail.
type ValidationFailureResponse struct {
	ErrorResponse
	Fields map[string]string `json:"fields,omitempty"`
}

// requestID returns the correlation id stamped on the response by the
// RequestID middleware, empty when the middleware is not mounted.
func requestID(c *gin.Context) string {
	return c.Writer.Header().Get("X-Request-ID")
}

// fail aborts the request with the standard error envelope. Server-side
// failures (5xx) are additionally logged through the request-scoped logger
// so they surface with the correlation id; 4xx are the caller's problem and
// stay out of the error log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail, for wiring code (router fallbacks)
// outside this package.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failValidation aborts with a 400 envelope carrying the per-field detail.
func failValidation(c *gin.Context, msg string, fields map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ValidationFailureResponse{
		ErrorResponse: ErrorResponse{
			RequestID: requestID(c),
			Code:      ErrCodeValidation,
			Message:   msg,
		},
		Fields: fields,
	})
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// Package handlers binds HTTP requests to the services. Every error leaves
// through fail, so all endpoints share one envelope:
//
//	HTTP/1.1 410 Gone
//	{"request_id":"01J9Z...","code":"session_expired","message":"session expired, start a new one"}
package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-eligibility-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Same value as the X-Request-ID response header
	RequestID string `json:"request_id,omitempty" example:"01J9ZQ4W8K3T6V2N5X7Y9A1B3C"`
	// Stable code, see errors.go
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"referral code not found"`
	// Only on 429
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty" example:"480"`
}

func requestID(c *gin.Context) string {
	if id := middleware.RequestIDFrom(c); id != "" {
		return id
	}
	return c.Writer.Header().Get("X-Request-ID")
}

// fail aborts with the envelope. 5xx responses are logged.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Int("status", status).Str("code", code).Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer NoRoute and NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failInternal logs err and answers 500 without exposing it.
func failInternal(c *gin.Context, code string, err error) {
	lg := middleware.LoggerFrom(c)
	lg.Error().Err(err).Str("code", code).Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   "internal error",
	})
}

// failRateLimited answers 429 with the wait in both Retry-After and the
// body, rounded up to whole seconds.
func failRateLimited(c *gin.Context, retryAfter time.Duration, msg string) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
		RequestID:         requestID(c),
		Code:              ErrCodeRateLimited,
		Message:           msg,
		RetryAfterSeconds: secs,
	})
}

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }

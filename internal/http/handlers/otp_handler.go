// OTP HTTP handlers.
//
// This file exposes REST endpoints for contact verification:
//   - POST   /otp/challenges              (issue, idempotent)
//   - POST   /otp/challenges/{id}/verify  (verify)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/http/middleware"
	"github.com/tbourn/go-eligibility-backend/internal/repo"
	"github.com/tbourn/go-eligibility-backend/internal/services"
)

const defaultIdempotencyTTL = 24 * time.Hour

//
// DTOs
//

// IssueOTPRequest asks for a one-time code to be sent to a contact.
type IssueOTPRequest struct {
	// Optional when X-Principal-ID is sent; must match it otherwise
	PrincipalID  string  `json:"principal_id"  example:"patient-42"`
	ContactType  string  `json:"contact_type"  binding:"required" enums:"email,phone" example:"email"`
	ContactValue string  `json:"contact_value" binding:"required" example:"test@example.com"`
	SessionID    *string `json:"session_id,omitempty" example:"3f6c1c9e-8f0b-4f7e-9b8a-2d1f4e5a6b7c"`
}

// VerifyOTPRequest carries the code the user typed.
type VerifyOTPRequest struct {
	Code      string  `json:"code" binding:"required" example:"123456"`
	SessionID *string `json:"session_id,omitempty"`
}

// VerifyOTPResponse is returned for every verification outcome. On success it
// carries the bearer token for the principal's profile endpoints.
type VerifyOTPResponse struct {
	Verified        bool       `json:"verified" example:"false"`
	PrincipalID     string     `json:"principal_id,omitempty" example:"patient-42"`
	AccessToken     string     `json:"access_token,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	RequestID       string     `json:"request_id,omitempty"`
	Code            string     `json:"code,omitempty"    example:"invalid_code"`
	Message         string     `json:"message,omitempty" example:"code does not match"`
}

//
// Handlers
//

// IssueOTP godoc
// @ID          issueOtp
// @Summary     Issue a one-time code
// @Description Stores a new challenge for the principal and sends a 6-digit code to the contact.
// @Description At most OTP_RATE_LIMIT codes per principal per OTP_RATE_WINDOW; when exceeded the
// @Description response carries Retry-After and retry_after_seconds.
// @Description Supports idempotency via the Idempotency-Key header (same key → same challenge).
// @Tags        OTP
// @Accept      json
// @Produce     json
//
// @Param       X-Principal-ID   header  string  false "Principal identifier"  example(patient-42)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.IssueOTPRequest  true  "Contact to verify"
//
// @Success     201  {object}  services.IssueResult     "Challenge issued"
// @Failure     400  {object}  handlers.ErrorResponse   "Validation failed"
// @Failure     422  {object}  handlers.ErrorResponse   "Idempotency-Key reused with a different body"
// @Failure     429  {object}  handlers.ErrorResponse   "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /otp/challenges [post]
func (h *Handlers) IssueOTP(c *gin.Context) {
	ctx := c.Request.Context()

	var req IssueOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contact_type and contact_value required")
		return
	}
	pid, okPID := principalID(c, req.PrincipalID)
	if !okPID {
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.GetIdempotencyScope(c)
	fp := middleware.GetIdempotencyFingerprint(c)
	svc, _ := h.otpSvc.(*services.OTPService)
	if idemKey != "" && svc != nil && svc.DB != nil {
		if rec, err := repo.GetIdempotency(ctx, svc.DB, pid, scope, idemKey, time.Now().UTC()); err == nil {
			if !rec.Matches(fp) {
				middleware.AbortIdempotencyMismatch(c)
				return
			}
			if prev, err := h.otpSvc.Get(ctx, rec.ResourceID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusCreated, prev)
				return
			}
		}
	}

	res, err := h.otpSvc.Issue(ctx, services.IssueRequest{
		PrincipalID:  pid,
		ContactType:  domain.ContactType(strings.ToLower(strings.TrimSpace(req.ContactType))),
		ContactValue: req.ContactValue,
		SessionID:    req.SessionID,
	})
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}

	// Best effort.
	if idemKey != "" && svc != nil && svc.DB != nil {
		_, err := repo.SaveIdempotency(ctx, svc.DB, repo.IdempotencyEntry{
			PrincipalID: pid,
			Scope:       scope,
			Key:         idemKey,
			RequestHash: fp,
			ResourceID:  res.ChallengeID,
			Status:      http.StatusCreated,
			TTL:         h.idempotencyTTL(),
		}, time.Now().UTC())
		if err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Msg("idempotency store failed")
		}
	}

	ok(c, http.StatusCreated, res)
}

func (h *Handlers) idempotencyTTL() time.Duration {
	if h.IdempotencyTTL > 0 {
		return h.IdempotencyTTL
	}
	return defaultIdempotencyTTL
}

// VerifyOTP godoc
// @ID          verifyOtp
// @Summary     Verify a one-time code
// @Description Every call against a live challenge consumes one attempt. After the last allowed
// @Description miss the challenge is locked and later calls report expired_or_unknown, even with
// @Description the right code.
// @Tags        OTP
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                     true  "Challenge ID (ULID)"
// @Param       body  body  handlers.VerifyOTPRequest  true  "Submitted code"
//
// @Success     200  {object}  handlers.VerifyOTPResponse  "Verified; carries the access token"
// @Failure     400  {object}  handlers.ErrorResponse      "Bad request"
// @Failure     401  {object}  handlers.VerifyOTPResponse  "Code does not match"
// @Failure     410  {object}  handlers.VerifyOTPResponse  "Challenge expired, consumed, locked or unknown"
// @Failure     429  {object}  handlers.VerifyOTPResponse  "Last attempt used"
// @Failure     500  {object}  handlers.ErrorResponse      "Internal error"
// @Router      /otp/challenges/{id}/verify [post]
func (h *Handlers) VerifyOTP(c *gin.Context) {
	ctx := c.Request.Context()
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "challenge id required")
		return
	}

	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code required")
		return
	}

	v, err := h.otpSvc.Verify(ctx, id, strings.TrimSpace(req.Code), req.SessionID)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}

	resp := VerifyOTPResponse{RequestID: c.Writer.Header().Get("X-Request-ID")}
	switch v.Outcome {
	case services.Verified:
		c.Header("Cache-Control", "no-store")
		ok(c, http.StatusOK, VerifyOTPResponse{
			Verified:        true,
			PrincipalID:     v.PrincipalID,
			AccessToken:     v.AccessToken,
			AccessExpiresAt: &v.AccessExpiresAt,
		})
		return
	case services.InvalidCode:
		resp.Code, resp.Message = ErrCodeInvalidCode, "code does not match"
		c.AbortWithStatusJSON(http.StatusUnauthorized, resp)
	case services.AttemptsExceeded:
		resp.Code, resp.Message = ErrCodeAttemptsExceeded, "too many attempts, request a new code"
		c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
	default:
		resp.Code, resp.Message = ErrCodeExpiredOrUnknown, "code expired or unknown, request a new code"
		c.AbortWithStatusJSON(http.StatusGone, resp)
	}
}

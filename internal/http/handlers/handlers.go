// Package handlers exposes the verification, questionnaire, eligibility,
// referral and profile operations over HTTP.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results (including typed service errors) into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/eligibility"
	"github.com/tbourn/go-eligibility-backend/internal/http/middleware"
	"github.com/tbourn/go-eligibility-backend/internal/services"
)

// HeaderSessionToken carries the bearer capability of a form session.
const HeaderSessionToken = "X-Session-Token"

//
// Service contracts (context-aware)
//

// OTPService issues and verifies one-time contact codes.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OTPService interface {
	// Issue stores a new challenge and hands the code to the delivery channel.
	Issue(ctx context.Context, req services.IssueRequest) (*services.IssueResult, error)
	// Verify counts one attempt and compares the submitted code. A match
	// grants the principal an access token.
	Verify(ctx context.Context, challengeID, code string, sessionID *string) (services.Verification, error)
	// Get returns the public view of an issued challenge.
	Get(ctx context.Context, challengeID string) (*services.IssueResult, error)
}

// SessionService manages questionnaire sessions authenticated by a token.
type SessionService interface {
	Create(ctx context.Context, principalID string, initialData map[string]any, sessionType string) (*services.CreatedSession, error)
	SaveProgress(ctx context.Context, sessionID, token string, step int, stepData map[string]any, principalID string) error
	Get(ctx context.Context, sessionID, token string) (*domain.FormSession, error)
	Abandon(ctx context.Context, sessionID, token string) error
	Complete(ctx context.Context, sessionID, token string) (*eligibility.Result, error)
}

// ReferralService issues and redeems GP referral codes.
type ReferralService interface {
	Issue(ctx context.Context, sessionID string) (*services.IssuedReferral, error)
	Redeem(ctx context.Context, code string) (*services.Redemption, error)
}

// ProfileService stores personal details and produces data exports. Every
// call requires the access token granted when the principal verified a code.
type ProfileService interface {
	Upsert(ctx context.Context, principalID, token string, in services.ProfileInput) (*domain.UserProfile, error)
	Get(ctx context.Context, principalID, token string) (*domain.UserProfile, error)
	Export(ctx context.Context, principalID, token string) (*services.Export, error)
	ExportTag(ctx context.Context, principalID, token string) (string, error)
}

// Scorer evaluates questionnaire answers. eligibility.Policy satisfies it.
type Scorer interface {
	Score(a eligibility.Answers) eligibility.Result
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	// IdempotencyTTL bounds how long an Idempotency-Key replays the same
	// challenge. Zero means 24h.
	IdempotencyTTL time.Duration

	otpSvc      OTPService
	sessionSvc  SessionService
	referralSvc ReferralService
	profileSvc  ProfileService
	scorer      Scorer
}

// New constructs and returns a Handlers instance bound to the given services.
// A nil scorer falls back to the default eligibility policy.
func New(otp OTPService, sessions SessionService, referrals ReferralService, profiles ProfileService, scorer Scorer) *Handlers {
	if scorer == nil {
		scorer = eligibility.DefaultPolicy()
	}
	return &Handlers{
		otpSvc:      otp,
		sessionSvc:  sessions,
		referralSvc: referrals,
		profileSvc:  profiles,
		scorer:      scorer,
	}
}

// principalID resolves the caller's principal from the X-Principal-ID header
// (validated by middleware.Principal) or, failing that, from the request body.
// A body value that disagrees with the header is rejected. On failure the
// response has already been written.
func principalID(c *gin.Context, fromBody string) (string, bool) {
	header := middleware.PrincipalFrom(c)
	fromBody = strings.TrimSpace(fromBody)

	switch {
	case header != "" && fromBody != "" && header != fromBody:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "principal_id does not match X-Principal-ID")
		return "", false
	case header != "":
		return header, true
	case fromBody != "":
		return fromBody, true
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "principal_id required")
		return "", false
	}
}

// sessionToken reads the session capability header.
func sessionToken(c *gin.Context) (string, bool) {
	tok := strings.TrimSpace(c.GetHeader(HeaderSessionToken))
	if tok == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+HeaderSessionToken)
		return "", false
	}
	return tok, true
}

// bearerToken reads the principal access token from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	const prefix = "Bearer "
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		c.Header("WWW-Authenticate", `Bearer realm="profiles"`)
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// failService maps a service error to its HTTP envelope. fallback is the code
// used for unexpected (500) errors.
func failService(c *gin.Context, err error, fallback string) {
	var verr *services.ValidationError
	var rerr *services.RateLimitedError

	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeValidation, verr.Error())
	case errors.As(err, &rerr):
		failRateLimited(c, rerr.RetryAfter, "too many requests, try again later")
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid session credentials")
	case errors.Is(err, services.ErrSessionExpired):
		fail(c, http.StatusGone, ErrCodeSessionExpired, "session expired, start a new one")
	case errors.Is(err, services.ErrReferralNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "referral code not found")
	case errors.Is(err, services.ErrReferralExpired):
		fail(c, http.StatusGone, ErrCodeReferralExpired, "referral code expired")
	case errors.Is(err, services.ErrReferralNotAllowed):
		fail(c, http.StatusConflict, ErrCodeReferralNotAllowed, "session does not qualify for a referral")
	case errors.Is(err, services.ErrProfileNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "profile not found")
	case errors.Is(err, services.ErrReferralSpaceExhausted):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "could not allocate a referral code, retry")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "request cancelled")
	default:
		failInternal(c, fallback, err)
	}
}

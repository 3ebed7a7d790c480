// Package services – OTPService
//
// This file implements OTPService, which issues and verifies one-time codes
// sent to an email address or Swiss phone number. Issuance is rate limited
// per principal over a trailing window; verification counts every attempt
// atomically so concurrent guesses cannot slip past the attempt cap.
//
// A successful verification marks the principal verified and grants a bearer
// access token for the profile endpoints.
//
// Observability: public methods are OpenTelemetry-instrumented and every
// issuance and verification writes one audit event to the request logger.
// Codes, hashes, tokens, and raw contact values never appear in spans or logs.

package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/contact"
	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/ids"
	"github.com/tbourn/go-eligibility-backend/internal/notify"
	"github.com/tbourn/go-eligibility-backend/internal/observability"
	"github.com/tbourn/go-eligibility-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	codeDigits        = 6
	maxPrincipalIDLen = 64

	defaultOTPTTL      = 10 * time.Minute
	defaultMaxAttempts = 3
	defaultRateWindow  = 10 * time.Minute
	defaultRateLimit   = 5
	defaultGrantTTL    = 24 * time.Hour
)

// VerifyOutcome is the result of a verification attempt. Everything except
// Verified leaves the principal unverified.
type VerifyOutcome string

const (
	Verified         VerifyOutcome = "verified"
	InvalidCode      VerifyOutcome = "invalid_code"
	AttemptsExceeded VerifyOutcome = "attempts_exceeded"
	ExpiredOrUnknown VerifyOutcome = "expired_or_unknown"
)

// Verification is the result of Verify. The principal and access token are
// set only when Outcome is Verified.
type Verification struct {
	Outcome         VerifyOutcome
	PrincipalID     string
	AccessToken     string
	AccessExpiresAt time.Time
}

// IssueRequest describes a code to send.
type IssueRequest struct {
	PrincipalID  string
	ContactType  domain.ContactType
	ContactValue string
	SessionID    *string
}

// IssueResult is what the caller may show the user. It never contains the
// code or the unmasked contact.
type IssueResult struct {
	ChallengeID   string    `json:"challenge_id"   example:"01J9Z3W4X5Y6Z7A8B9C0D1E2F3"`
	MaskedContact string    `json:"masked_contact" example:"te***@example.com"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// OTPService issues and verifies one-time codes.
type OTPService struct {
	DB     *gorm.DB
	Sender notify.Sender

	TTL         time.Duration
	MaxAttempts int
	Window      contact.Window
	BcryptCost  int

	// GrantTTL is the lifetime of the access token granted on verification.
	// Zero means 24h.
	GrantTTL time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *OTPService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *OTPService) ttl() time.Duration {
	if s.TTL <= 0 {
		return defaultOTPTTL
	}
	return s.TTL
}

func (s *OTPService) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return s.MaxAttempts
}

func (s *OTPService) window() contact.Window {
	w := s.Window
	if w.Size <= 0 {
		w.Size = defaultRateWindow
	}
	if w.Limit <= 0 {
		w.Limit = defaultRateLimit
	}
	return w
}

func (s *OTPService) grantTTL() time.Duration {
	if s.GrantTTL <= 0 {
		return defaultGrantTTL
	}
	return s.GrantTTL
}

func (s *OTPService) cost() int {
	if s.BcryptCost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.BcryptCost
}

// Issue validates the contact, enforces the per-principal issuance window,
// stores a hashed code, and hands the plain code to the Sender.
//
// The window check and the insert share one transaction whose first
// statement writes the principal row, so two concurrent issuers for the same
// principal cannot both observe the last free slot.
func (s *OTPService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	tr := otel.Tracer("services/OTPService")
	ctx, span := tr.Start(ctx, "Issue",
		trace.WithAttributes(
			attribute.String("principal.id", req.PrincipalID),
			attribute.String("contact.type", string(req.ContactType)),
		),
	)
	defer span.End()

	if err := validPrincipal(req.PrincipalID); err != nil {
		return nil, issueRejected(ctx, req, err)
	}
	if !req.ContactType.Valid() {
		return nil, issueRejected(ctx, req, invalid("contact_type", "must be email or phone"))
	}
	value, err := contact.Normalize(req.ContactType, req.ContactValue)
	if err != nil {
		return nil, issueRejected(ctx, req, invalid("contact_value", err.Error()))
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost())
	if err != nil {
		return nil, err
	}

	now := s.now()
	ch := &domain.ContactChallenge{
		ID:            ids.NewAt(now),
		PrincipalID:   req.PrincipalID,
		SessionID:     req.SessionID,
		ContactType:   req.ContactType,
		MaskedContact: contact.Mask(req.ContactType, value),
		CodeHash:      string(hash),
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.ttl()),
		MaxAttempts:   s.maxAttempts(),
	}

	win := s.window()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.TouchPrincipal(ctx, tx, req.PrincipalID, now); err != nil {
			return err
		}
		recent, err := repo.IssuedSince(ctx, tx, req.PrincipalID, now.Add(-win.Size))
		if err != nil {
			return err
		}
		if ok, retry := win.Check(recent, now); !ok {
			return &RateLimitedError{RetryAfter: retry}
		}
		return repo.CreateChallenge(ctx, tx, ch)
	})
	if err != nil {
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			observability.OTPIssued.WithLabelValues("rate_limited").Inc()
			auditOTP(ctx, zerolog.WarnLevel, "issue", "rate_limited").
				Str("principal_id", req.PrincipalID).
				Str("masked_contact", ch.MaskedContact).
				Dur("retry_after", rl.RetryAfter).
				Msg("otp issue refused")
		}
		return nil, err
	}
	observability.OTPIssued.WithLabelValues("issued").Inc()
	span.SetAttributes(attribute.String("challenge.id", ch.ID))
	auditOTP(ctx, zerolog.InfoLevel, "issue", "issued").
		Str("challenge_id", ch.ID).
		Str("principal_id", req.PrincipalID).
		Str("masked_contact", ch.MaskedContact).
		Time("expires_at", ch.ExpiresAt).
		Msg("otp issued")

	if s.Sender != nil {
		msg := notify.Message{Channel: req.ContactType, To: value, Code: code, ExpiresAt: ch.ExpiresAt}
		if err := s.Sender.Send(ctx, msg); err != nil {
			observability.OTPDeliveryFailures.Inc()
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("challenge_id", ch.ID).
				Str("masked_contact", ch.MaskedContact).
				Msg("otp delivery failed")
		}
	}

	return &IssueResult{
		ChallengeID:   ch.ID,
		MaskedContact: ch.MaskedContact,
		ExpiresAt:     ch.ExpiresAt,
	}, nil
}

// Verify checks submitted against the challenge. Every call that reaches a
// live challenge consumes one attempt, including malformed codes, before the
// comparison runs. On success the challenge is consumed and the principal is
// marked verified in one transaction.
func (s *OTPService) Verify(ctx context.Context, challengeID, submitted string, sessionID *string) (Verification, error) {
	tr := otel.Tracer("services/OTPService")
	ctx, span := tr.Start(ctx, "Verify",
		trace.WithAttributes(attribute.String("challenge.id", challengeID)),
	)
	defer span.End()

	v, ch, err := s.verify(ctx, challengeID, submitted, sessionID)
	if err != nil {
		return Verification{}, err
	}
	span.SetAttributes(attribute.String("otp.outcome", string(v.Outcome)))
	observability.OTPVerified.WithLabelValues(string(v.Outcome)).Inc()

	level := zerolog.WarnLevel
	if v.Outcome == Verified {
		level = zerolog.InfoLevel
	}
	ev := auditOTP(ctx, level, "verify", string(v.Outcome)).Str("challenge_id", challengeID)
	if ch != nil {
		ev = ev.Str("principal_id", ch.PrincipalID).
			Str("masked_contact", ch.MaskedContact).
			Int("attempts", ch.Attempts).
			Int("max_attempts", ch.MaxAttempts)
	}
	ev.Msg("otp verification")
	return v, nil
}

// verify also returns the challenge as reserved, or nil when no attempt was
// counted.
func (s *OTPService) verify(ctx context.Context, challengeID, submitted string, sessionID *string) (Verification, *domain.ContactChallenge, error) {
	now := s.now()

	ch, err := repo.ReserveAttempt(ctx, s.DB, challengeID, now)
	if err != nil {
		return Verification{}, nil, err
	}
	if ch == nil {
		return Verification{Outcome: ExpiredOrUnknown}, nil, nil
	}
	if sessionID != nil && *sessionID != "" && (ch.SessionID == nil || *ch.SessionID != *sessionID) {
		return Verification{Outcome: ExpiredOrUnknown}, ch, nil
	}

	if wellFormedCode(submitted) &&
		bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(submitted)) == nil {
		token, err := newToken()
		if err != nil {
			return Verification{}, nil, err
		}
		expires := now.Add(s.grantTTL())

		var consumed bool
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := repo.ConsumeChallenge(ctx, tx, challengeID, now)
			if err != nil || !ok {
				return err
			}
			consumed = true
			return repo.GrantPrincipal(ctx, tx, ch.PrincipalID, hashToken(token), now, expires)
		})
		if err != nil {
			return Verification{}, nil, err
		}
		if !consumed {
			return Verification{Outcome: ExpiredOrUnknown}, ch, nil
		}
		return Verification{
			Outcome:         Verified,
			PrincipalID:     ch.PrincipalID,
			AccessToken:     token,
			AccessExpiresAt: expires,
		}, ch, nil
	}

	// ch.Attempts is the count this call reserved.
	if ch.Attempts >= ch.MaxAttempts {
		return Verification{Outcome: AttemptsExceeded}, ch, nil
	}
	return Verification{Outcome: InvalidCode}, ch, nil
}

// Get returns a challenge for idempotent replay of an issuance.
func (s *OTPService) Get(ctx context.Context, id string) (*IssueResult, error) {
	tr := otel.Tracer("services/OTPService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("challenge.id", id)))
	defer span.End()

	ch, err := repo.GetChallenge(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	return &IssueResult{ChallengeID: ch.ID, MaskedContact: ch.MaskedContact, ExpiresAt: ch.ExpiresAt}, nil
}

// generateCode returns six uniformly distributed decimal digits.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func wellFormedCode(s string) bool {
	if len(s) != codeDigits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// auditOTP starts a security event on the request logger. Callers add the
// challenge and principal fields; codes and raw contacts are never added.
func auditOTP(ctx context.Context, level zerolog.Level, action, outcome string) *zerolog.Event {
	return zerolog.Ctx(ctx).WithLevel(level).
		Str("audit", "otp").
		Str("action", action).
		Str("outcome", outcome)
}

func issueRejected(ctx context.Context, req IssueRequest, err error) error {
	observability.OTPIssued.WithLabelValues("invalid").Inc()
	auditOTP(ctx, zerolog.WarnLevel, "issue", "invalid").
		Str("principal_id", req.PrincipalID).
		Str("contact_type", string(req.ContactType)).
		Err(err).
		Msg("otp issue rejected")
	return err
}

func validPrincipal(id string) error {
	if id == "" {
		return invalid("principal_id", "required")
	}
	if len(id) > maxPrincipalIDLen {
		return invalid("principal_id", "too long")
	}
	return nil
}

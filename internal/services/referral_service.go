// Package services – ReferralService
//
// Referral codes let a GP look up a completed questionnaire. Codes are short,
// human-typeable, and unique among unexpired codes.

package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/eligibility"
	"github.com/tbourn/go-eligibility-backend/internal/ids"
	"github.com/tbourn/go-eligibility-backend/internal/observability"
	"github.com/tbourn/go-eligibility-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// No 0/O, 1/I/L: codes are read aloud and typed by hand.
	referralAlphabet   = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	referralCodeLen    = 8
	referralMaxRetries = 5
	defaultReferralTTL = 14 * 24 * time.Hour
)

var errReferralCollision = errors.New("referral code collision")

// IssuedReferral is a code handed to the patient.
type IssuedReferral struct {
	Code      string    `json:"code"       example:"K7MX2QPA"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReferralSummary is what a GP sees. It carries no contact details.
type ReferralSummary struct {
	Score             *int                `json:"score,omitempty"              example:"80"`
	Pathway           eligibility.Pathway `json:"pathway"                      example:"insurance-gp-required"`
	Urgency           eligibility.Urgency `json:"urgency,omitempty"            example:"urgent"`
	EstimatedCost     *int64              `json:"estimated_cost,omitempty"     example:"0"`
	Canton            *string             `json:"canton,omitempty"             example:"ZH"`
	PreferredLanguage *string             `json:"preferred_language,omitempty" example:"de"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
}

// Redemption is the result of a successful redeem.
type Redemption struct {
	SessionID string          `json:"session_id"`
	Summary   ReferralSummary `json:"summary"`
}

// ReferralService issues and redeems referral codes.
type ReferralService struct {
	DB  *gorm.DB
	TTL time.Duration

	Now func() time.Time
	// NewCode generates a candidate code; nil uses a crypto-random one.
	NewCode func() (string, error)
}

func (s *ReferralService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ReferralService) ttl() time.Duration {
	if s.TTL <= 0 {
		return defaultReferralTTL
	}
	return s.TTL
}

func (s *ReferralService) newCode() (string, error) {
	if s.NewCode != nil {
		return s.NewCode()
	}
	return randomReferralCode()
}

// Issue returns a referral code for a completed, physician-gated session.
// A session that already holds an unexpired code gets that code back.
func (s *ReferralService) Issue(ctx context.Context, sessionID string) (*IssuedReferral, error) {
	tr := otel.Tracer("services/ReferralService")
	ctx, span := tr.Start(ctx, "Issue", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionCompleted || !eligibility.Pathway(sess.Pathway).RequiresPhysician() {
		return nil, ErrReferralNotAllowed
	}

	now := s.now()
	if r, err := repo.ActiveReferralForSession(ctx, s.DB, sessionID, now); err == nil {
		observability.ReferralsIssued.WithLabelValues("reused").Inc()
		return &IssuedReferral{Code: r.Code, ExpiresAt: r.ExpiresAt}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < referralMaxRetries; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		row := &domain.ReferralCode{
			ID:        ids.NewAt(now),
			Code:      code,
			SessionID: sessionID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl()),
		}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repo.LockReferralCode(ctx, tx, code); err != nil {
				return err
			}
			if err := repo.CreateReferral(ctx, tx, row); err != nil {
				return err
			}
			n, err := repo.CountActiveByCode(ctx, tx, code, row.ID, now)
			if err != nil {
				return err
			}
			if n > 0 {
				return errReferralCollision
			}
			return nil
		})
		if errors.Is(err, errReferralCollision) {
			span.AddEvent("referral code collision")
			continue
		}
		if err != nil {
			return nil, err
		}
		observability.ReferralsIssued.WithLabelValues("new").Inc()
		return &IssuedReferral{Code: row.Code, ExpiresAt: row.ExpiresAt}, nil
	}
	return nil, ErrReferralSpaceExhausted
}

// Redeem looks up a code and returns the session summary it points to.
// Lookup is case-insensitive and ignores surrounding whitespace.
func (s *ReferralService) Redeem(ctx context.Context, code string) (*Redemption, error) {
	tr := otel.Tracer("services/ReferralService")
	ctx, span := tr.Start(ctx, "Redeem")
	defer span.End()

	code = NormalizeReferralCode(code)
	if code == "" {
		observability.ReferralsRedeemed.WithLabelValues("not_found").Inc()
		return nil, ErrReferralNotFound
	}

	now := s.now()
	r, err := repo.LatestByCode(ctx, s.DB, code)
	if errors.Is(err, repo.ErrNotFound) {
		observability.ReferralsRedeemed.WithLabelValues("not_found").Inc()
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, err
	}
	if !r.ExpiresAt.After(now) {
		observability.ReferralsRedeemed.WithLabelValues("expired").Inc()
		return nil, ErrReferralExpired
	}

	sess, err := repo.GetSession(ctx, s.DB, r.SessionID)
	if errors.Is(err, repo.ErrNotFound) {
		observability.ReferralsRedeemed.WithLabelValues("not_found").Inc()
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := repo.MarkRedeemed(ctx, s.DB, r.ID, now); err != nil {
		return nil, err
	}

	sum := ReferralSummary{
		Score:         sess.Score,
		Pathway:       eligibility.Pathway(sess.Pathway),
		Urgency:       eligibility.Urgency(sess.Urgency),
		EstimatedCost: sess.EstimatedCost,
		CompletedAt:   sess.CompletedAt,
	}
	p, err := repo.GetProfile(ctx, s.DB, sess.PrincipalID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if p != nil {
		sum.Canton = p.Canton
		sum.PreferredLanguage = p.PreferredLanguage
	}

	observability.ReferralsRedeemed.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("session.id", sess.ID))
	return &Redemption{SessionID: sess.ID, Summary: sum}, nil
}

// NormalizeReferralCode trims and upper-cases a user-typed code.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomReferralCode() (string, error) {
	max := big.NewInt(int64(len(referralAlphabet)))
	b := make([]byte, referralCodeLen)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = referralAlphabet[n.Int64()]
	}
	return string(b), nil
}

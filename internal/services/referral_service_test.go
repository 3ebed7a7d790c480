package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/repo"
)

// completedSession creates a session completed with the given pathway.
func completedSession(t *testing.T, s *SessionService, principal string, answers map[string]any) string {
	t.Helper()
	ctx := context.Background()
	cs, err := s.Create(ctx, principal, answers, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Complete(ctx, cs.SessionID, cs.SessionToken); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return cs.SessionID
}

var gpAnswers = map[string]any{
	"age":            70,
	"insured":        true,
	"symptoms":       []string{"chest_pain", "syncope"},
	"family_history": true,
}

func newReferrals(t *testing.T) (*ReferralService, *SessionService, *clock) {
	t.Helper()
	sessions, clk := newSessions(t)
	return &ReferralService{DB: sessions.DB, TTL: 14 * 24 * time.Hour, Now: clk.Now}, sessions, clk
}

func TestReferral_Issue_OnlyForGPRequired(t *testing.T) {
	r, sessions, _ := newReferrals(t)
	ctx := context.Background()

	direct := completedSession(t, sessions, "p1", map[string]any{"age": 30, "insured": true})
	if _, err := r.Issue(ctx, direct); !errors.Is(err, ErrReferralNotAllowed) {
		t.Fatalf("insurance-direct: %v", err)
	}

	cs, _ := sessions.Create(ctx, "p1", gpAnswers, "")
	if _, err := r.Issue(ctx, cs.SessionID); !errors.Is(err, ErrReferralNotAllowed) {
		t.Fatalf("active session: %v", err)
	}

	if _, err := r.Issue(ctx, "missing"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown session: %v", err)
	}
}

func TestReferral_Issue_ReturnsSameActiveCode(t *testing.T) {
	r, sessions, clk := newReferrals(t)
	ctx := context.Background()
	sid := completedSession(t, sessions, "p1", gpAnswers)

	first, err := r.Issue(ctx, sid)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(first.Code) != referralCodeLen || strings.Trim(first.Code, referralAlphabet) != "" {
		t.Fatalf("bad code %q", first.Code)
	}
	if !first.ExpiresAt.Equal(clk.Now().Add(14 * 24 * time.Hour)) {
		t.Fatalf("expires_at = %v", first.ExpiresAt)
	}

	again, err := r.Issue(ctx, sid)
	if err != nil || again.Code != first.Code {
		t.Fatalf("second Issue = (%+v, %v); want same code", again, err)
	}

	clk.Advance(15 * 24 * time.Hour)
	fresh, err := r.Issue(ctx, sid)
	if err != nil || !fresh.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("expected a fresh code after expiry, got (%+v, %v)", fresh, err)
	}
}

func TestReferral_Issue_RetriesOnCollision(t *testing.T) {
	r, sessions, _ := newReferrals(t)
	ctx := context.Background()
	a := completedSession(t, sessions, "p1", gpAnswers)
	b := completedSession(t, sessions, "p2", gpAnswers)

	seq := []string{"AAAA2222", "AAAA2222", "BBBB3333"}
	r.NewCode = func() (string, error) {
		c := seq[0]
		seq = seq[1:]
		return c, nil
	}

	ra, err := r.Issue(ctx, a)
	if err != nil || ra.Code != "AAAA2222" {
		t.Fatalf("first = (%+v, %v)", ra, err)
	}
	rb, err := r.Issue(ctx, b)
	if err != nil || rb.Code != "BBBB3333" {
		t.Fatalf("collision should retry, got (%+v, %v)", rb, err)
	}

	var n int64
	s := r.DB.Model(&domain.ReferralCode{}).Where("code = ?", "AAAA2222").Count(&n)
	if s.Error != nil || n != 1 {
		t.Fatalf("rolled back duplicate must not persist: n=%d err=%v", n, s.Error)
	}
}

func TestReferral_Issue_GivesUpAfterRetries(t *testing.T) {
	r, sessions, _ := newReferrals(t)
	ctx := context.Background()
	a := completedSession(t, sessions, "p1", gpAnswers)
	b := completedSession(t, sessions, "p2", gpAnswers)

	r.NewCode = func() (string, error) { return "SAME2222", nil }
	if _, err := r.Issue(ctx, a); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := r.Issue(ctx, b); !errors.Is(err, ErrReferralSpaceExhausted) {
		t.Fatalf("expected ErrReferralSpaceExhausted, got %v", err)
	}
}

func TestReferral_Redeem(t *testing.T) {
	r, sessions, clk := newReferrals(t)
	ctx := context.Background()

	profiles := &ProfileService{DB: r.DB, Now: clk.Now}
	canton, lang := "ZH", "de-CH"
	tok := grantAccess(t, r.DB, "p1", clk.Now())
	if _, err := profiles.Upsert(ctx, "p1", tok, ProfileInput{Canton: &canton, PreferredLanguage: &lang}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	sid := completedSession(t, sessions, "p1", gpAnswers)
	issued, _ := r.Issue(ctx, sid)

	red, err := r.Redeem(ctx, "  "+strings.ToLower(issued.Code)+" ")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if red.SessionID != sid || red.Summary.Pathway != "insurance-gp-required" || red.Summary.Score == nil {
		t.Fatalf("unexpected redemption: %+v", red)
	}
	if red.Summary.Canton == nil || *red.Summary.Canton != "ZH" || red.Summary.PreferredLanguage == nil || *red.Summary.PreferredLanguage != "de" {
		t.Fatalf("profile fields missing: %+v", red.Summary)
	}

	row, _ := repo.LatestByCode(ctx, r.DB, issued.Code)
	if row.RedeemCount != 1 {
		t.Fatalf("redeem_count = %d", row.RedeemCount)
	}

	if _, err := r.Redeem(ctx, "ZZZZ9999"); !errors.Is(err, ErrReferralNotFound) {
		t.Fatalf("unknown code: %v", err)
	}
	if _, err := r.Redeem(ctx, "   "); !errors.Is(err, ErrReferralNotFound) {
		t.Fatalf("blank code: %v", err)
	}

	clk.Advance(15 * 24 * time.Hour)
	if _, err := r.Redeem(ctx, issued.Code); !errors.Is(err, ErrReferralExpired) {
		t.Fatalf("expired code: %v", err)
	}
}

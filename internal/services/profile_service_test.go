package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-eligibility-backend/internal/repo"
)

// newProfiles returns a service whose principal "p1" is verified, plus the
// access token for it.
func newProfiles(t *testing.T) (*ProfileService, *clock, string) {
	t.Helper()
	clk := newClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s := &ProfileService{DB: newSvcDB(t), Now: clk.Now}
	return s, clk, grantAccess(t, s.DB, "p1", clk.Now())
}

func sp(s string) *string { return &s }

func TestProfile_UpsertPartial(t *testing.T) {
	s, _, tok := newProfiles(t)
	ctx := context.Background()

	dob := time.Date(1980, 4, 2, 0, 0, 0, 0, time.UTC)
	p, err := s.Upsert(ctx, "p1", tok, ProfileInput{
		DateOfBirth: &dob,
		Phone:       sp("079 123 45 67"),
		City:        sp(" Zürich "),
		PostalCode:  sp("8001"),
		Canton:      sp("zh"),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if *p.Phone != "+41791234567" || *p.City != "Zürich" || *p.Canton != "ZH" {
		t.Fatalf("values not normalized: %+v", p)
	}

	p, err = s.Upsert(ctx, "p1", tok, ProfileInput{PreferredLanguage: sp("fr-CH")})
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if *p.PreferredLanguage != "fr" || p.City == nil || *p.City != "Zürich" {
		t.Fatalf("partial update clobbered fields: %+v", p)
	}
}

func TestProfile_UpsertValidation(t *testing.T) {
	s, clk, tok := newProfiles(t)
	ctx := context.Background()

	minor := clk.Now().AddDate(-17, 0, 0)
	future := clk.Now().AddDate(1, 0, 0)
	cases := []struct {
		name  string
		in    ProfileInput
		field string
	}{
		{"underage", ProfileInput{DateOfBirth: &minor}, "date_of_birth"},
		{"future dob", ProfileInput{DateOfBirth: &future}, "date_of_birth"},
		{"canton", ProfileInput{Canton: sp("XX")}, "canton"},
		{"phone", ProfileInput{Phone: sp("+33 6 12 34 56 78")}, "phone"},
		{"language", ProfileInput{PreferredLanguage: sp("es")}, "preferred_language"},
		{"postal", ProfileInput{PostalCode: sp("123")}, "postal_code"},
		{"street", ProfileInput{Street: sp(strings.Repeat("x", 300))}, "street"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Upsert(ctx, "p1", tok, tc.in)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected ValidationError on %s, got %v", tc.field, err)
			}
		})
	}
	if _, err := s.Get(ctx, "p1", tok); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("rejected input must not create a profile, got %v", err)
	}
}

func TestProfile_Export(t *testing.T) {
	s, clk, tok := newProfiles(t)
	ctx := context.Background()
	sessions := &SessionService{DB: s.DB, TTL: time.Hour, Now: clk.Now}
	referrals := &ReferralService{DB: s.DB, Now: clk.Now}

	_, _ = s.Upsert(ctx, "p1", tok, ProfileInput{Canton: sp("BE")})
	sid := completedSession(t, sessions, "p1", gpAnswers)
	issued, err := referrals.Issue(ctx, sid)
	if err != nil {
		t.Fatalf("referral: %v", err)
	}

	tag1, err := s.ExportTag(ctx, "p1", tok)
	if err != nil {
		t.Fatalf("ExportTag: %v", err)
	}

	exp, err := s.Export(ctx, "p1", tok)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if exp.Version != exportVersion || exp.Principal == nil || exp.Profile == nil {
		t.Fatalf("export header wrong: %+v", exp)
	}
	if len(exp.Sessions) != 1 || len(exp.Referrals) != 1 {
		t.Fatalf("export rows wrong: sessions=%d referrals=%d", len(exp.Sessions), len(exp.Referrals))
	}
	if exp.Principal.VerifiedAt == nil {
		t.Fatalf("export must show when the principal verified")
	}

	// The export names the referral but cannot be used to redeem it.
	if got := exp.Referrals[0].Code; got != MaskReferralCode(issued.Code) || got == issued.Code {
		t.Fatalf("referral code = %q; want masked %q", got, MaskReferralCode(issued.Code))
	}
	raw, _ := json.Marshal(exp)
	if strings.Contains(string(raw), issued.Code) {
		t.Fatalf("export leaked a live referral code: %s", raw)
	}
	if strings.Contains(string(raw), tok) || strings.Contains(string(raw), hashToken(tok)) {
		t.Fatalf("export leaked the access token")
	}
	row, _ := repo.LatestByCode(ctx, s.DB, issued.Code)
	if row == nil || row.Code != issued.Code {
		t.Fatalf("masking must not touch the stored code")
	}

	clk.Advance(time.Minute)
	_, _ = sessions.Create(ctx, "p1", nil, "")
	tag2, _ := s.ExportTag(ctx, "p1", tok)
	if tag1 == tag2 {
		t.Fatalf("tag must change when sessions change")
	}

	tok2 := grantAccess(t, s.DB, "p2", clk.Now())
	empty, err := s.Export(ctx, "p2", tok2)
	if err != nil || empty.Profile != nil || len(empty.Sessions) != 0 || len(empty.Referrals) != 0 {
		t.Fatalf("export for a principal without data = (%+v, %v)", empty, err)
	}
}

func TestProfile_RequiresVerifiedPrincipal(t *testing.T) {
	s, clk, tok := newProfiles(t)
	ctx := context.Background()

	if err := repo.TouchPrincipal(ctx, s.DB, "unverified", clk.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	other := grantAccess(t, s.DB, "p2", clk.Now())

	cases := []struct {
		name, pid, token string
	}{
		{"unknown principal", "nobody", tok},
		{"unverified principal", "unverified", tok},
		{"no token", "p1", ""},
		{"wrong token", "p1", "not-the-token"},
		{"token of another principal", "p1", other},
	}
	canton := ProfileInput{Canton: sp("ZH")}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Upsert(ctx, tc.pid, tc.token, canton); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("Upsert: %v", err)
			}
			if _, err := s.Get(ctx, tc.pid, tc.token); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("Get: %v", err)
			}
			if _, err := s.Export(ctx, tc.pid, tc.token); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("Export: %v", err)
			}
			if _, err := s.ExportTag(ctx, tc.pid, tc.token); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("ExportTag: %v", err)
			}
		})
	}
	if _, err := repo.GetProfile(ctx, s.DB, "unverified"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("refused upsert must not write a profile, got %v", err)
	}

	if _, err := s.Upsert(ctx, "p1", tok, canton); err != nil {
		t.Fatalf("verified Upsert: %v", err)
	}

	// The grant is valid for 24h.
	clk.Advance(24 * time.Hour)
	if _, err := s.Get(ctx, "p1", tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestMaskReferralCode(t *testing.T) {
	cases := map[string]string{"K7QM2XPA": "K7******", "AB": "**", "": ""}
	for in, want := range cases {
		if got := MaskReferralCode(in); got != want {
			t.Fatalf("MaskReferralCode(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestMatchLanguage(t *testing.T) {
	cases := map[string]string{"de": "de", "de-CH": "de", "fr": "fr", "it-CH": "it", "en-GB": "en"}
	for in, want := range cases {
		got, err := MatchLanguage(in)
		if err != nil || got != want {
			t.Fatalf("MatchLanguage(%q) = (%q, %v); want %q", in, got, err, want)
		}
	}
	if _, err := MatchLanguage("!!"); err == nil {
		t.Fatalf("garbage tag must fail")
	}
}

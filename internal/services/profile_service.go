// Package services – ProfileService
//
// ProfileService stores optional personal data for a principal and produces
// the personal data export. Updates are partial: only fields present in the
// input are written. Every operation requires the principal to have verified
// a code and to present the access token that verification granted.

package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/contact"
	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	minPatientAge = 18
	exportVersion = 2
)

// Cantons lists the 26 Swiss canton codes.
var Cantons = map[string]struct{}{
	"AG": {}, "AI": {}, "AR": {}, "BE": {}, "BL": {}, "BS": {}, "FR": {},
	"GE": {}, "GL": {}, "GR": {}, "JU": {}, "LU": {}, "NE": {}, "NW": {},
	"OW": {}, "SG": {}, "SH": {}, "SO": {}, "SZ": {}, "TG": {}, "TI": {},
	"UR": {}, "VD": {}, "VS": {}, "ZG": {}, "ZH": {},
}

// SupportedLanguages are the UI languages, in matcher preference order.
var SupportedLanguages = []language.Tag{
	language.German,
	language.French,
	language.Italian,
	language.English,
}

var languageMatcher = language.NewMatcher(SupportedLanguages)

// ProfileInput carries a partial profile update. Nil fields are left as is.
type ProfileInput struct {
	DateOfBirth       *time.Time
	Phone             *string
	Street            *string
	PostalCode        *string
	City              *string
	Canton            *string
	PreferredLanguage *string
}

// Export is the complete personal data held for a principal. Referral codes
// are masked: the export documents them but cannot be used to redeem them.
type Export struct {
	Version    int                       `json:"version" example:"2"`
	Principal  *domain.Principal         `json:"principal,omitempty"`
	Profile    *domain.UserProfile       `json:"profile,omitempty"`
	Sessions   []domain.FormSession      `json:"sessions"`
	Challenges []domain.ContactChallenge `json:"challenges"`
	Referrals  []domain.ReferralCode     `json:"referrals"`
	ExportedAt time.Time                 `json:"exported_at"`
}

// ProfileService manages user profiles.
type ProfileService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *ProfileService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Upsert validates in and writes the supplied fields.
func (s *ProfileService) Upsert(ctx context.Context, principalID, token string, in ProfileInput) (*domain.UserProfile, error) {
	tr := otel.Tracer("services/ProfileService")
	ctx, span := tr.Start(ctx, "Upsert", trace.WithAttributes(attribute.String("principal.id", principalID)))
	defer span.End()

	if err := s.authorize(ctx, principalID, token); err != nil {
		return nil, err
	}

	now := s.now()
	p := &domain.UserProfile{PrincipalID: principalID, CreatedAt: now, UpdatedAt: now}
	var cols []string

	if in.DateOfBirth != nil {
		dob := in.DateOfBirth.UTC().Truncate(24 * time.Hour)
		if dob.After(now) {
			return nil, invalid("date_of_birth", "in the future")
		}
		if ageAt(dob, now) < minPatientAge {
			return nil, invalid("date_of_birth", fmt.Sprintf("must be at least %d years old", minPatientAge))
		}
		p.DateOfBirth = &dob
		cols = append(cols, "date_of_birth")
	}
	if in.Phone != nil {
		v, err := contact.NormalizePhone(*in.Phone)
		if err != nil {
			return nil, invalid("phone", "must be a Swiss number")
		}
		p.Phone = &v
		cols = append(cols, "phone")
	}
	if in.Street != nil {
		v, err := text("street", *in.Street, 255)
		if err != nil {
			return nil, err
		}
		p.Street = &v
		cols = append(cols, "street")
	}
	if in.PostalCode != nil {
		v := strings.TrimSpace(*in.PostalCode)
		if !swissPostalCode(v) {
			return nil, invalid("postal_code", "must be 4 digits")
		}
		p.PostalCode = &v
		cols = append(cols, "postal_code")
	}
	if in.City != nil {
		v, err := text("city", *in.City, 128)
		if err != nil {
			return nil, err
		}
		p.City = &v
		cols = append(cols, "city")
	}
	if in.Canton != nil {
		v := strings.ToUpper(strings.TrimSpace(*in.Canton))
		if _, ok := Cantons[v]; !ok {
			return nil, invalid("canton", "unknown canton code")
		}
		p.Canton = &v
		cols = append(cols, "canton")
	}
	if in.PreferredLanguage != nil {
		v, err := MatchLanguage(*in.PreferredLanguage)
		if err != nil {
			return nil, err
		}
		p.PreferredLanguage = &v
		cols = append(cols, "preferred_language")
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.TouchPrincipal(ctx, tx, principalID, now); err != nil {
			return err
		}
		return repo.UpsertProfile(ctx, tx, p, cols)
	})
	if err != nil {
		return nil, err
	}
	return repo.GetProfile(ctx, s.DB, principalID)
}

// Get returns the profile of principalID or ErrProfileNotFound.
func (s *ProfileService) Get(ctx context.Context, principalID, token string) (*domain.UserProfile, error) {
	tr := otel.Tracer("services/ProfileService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("principal.id", principalID)))
	defer span.End()

	if err := s.authorize(ctx, principalID, token); err != nil {
		return nil, err
	}

	p, err := repo.GetProfile(ctx, s.DB, principalID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// Export gathers every row held for principalID. Challenges carry only the
// masked contact; code hashes and token hashes are never serialized.
func (s *ProfileService) Export(ctx context.Context, principalID, token string) (*Export, error) {
	tr := otel.Tracer("services/ProfileService")
	ctx, span := tr.Start(ctx, "Export", trace.WithAttributes(attribute.String("principal.id", principalID)))
	defer span.End()

	if err := s.authorize(ctx, principalID, token); err != nil {
		return nil, err
	}

	out := &Export{Version: exportVersion, ExportedAt: s.now()}

	pr, err := repo.GetPrincipal(ctx, s.DB, principalID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	out.Principal = pr

	prof, err := repo.GetProfile(ctx, s.DB, principalID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	out.Profile = prof

	if out.Sessions, err = repo.ListSessionsByPrincipal(ctx, s.DB, principalID); err != nil {
		return nil, err
	}
	if out.Challenges, err = repo.ListChallengesByPrincipal(ctx, s.DB, principalID); err != nil {
		return nil, err
	}
	sessionIDs := make([]string, 0, len(out.Sessions))
	for _, ss := range out.Sessions {
		sessionIDs = append(sessionIDs, ss.ID)
	}
	if out.Referrals, err = repo.ListReferralsBySessions(ctx, s.DB, sessionIDs); err != nil {
		return nil, err
	}
	for i := range out.Referrals {
		out.Referrals[i].Code = MaskReferralCode(out.Referrals[i].Code)
	}
	return out, nil
}

// ExportTag returns a weak validator that changes whenever the principal's
// sessions or profile change.
func (s *ProfileService) ExportTag(ctx context.Context, principalID, token string) (string, error) {
	if err := s.authorize(ctx, principalID, token); err != nil {
		return "", err
	}
	count, maxAt, err := repo.SessionsStats(ctx, s.DB, principalID)
	if err != nil {
		return "", err
	}
	profAt, err := repo.ProfileUpdatedAt(ctx, s.DB, principalID)
	if err != nil {
		return "", err
	}
	var sessTS, profTS int64
	if maxAt != nil {
		sessTS = maxAt.UnixNano()
	}
	if profAt != nil {
		profTS = profAt.UnixNano()
	}
	return fmt.Sprintf(`W/"export:%s:%d:%d:%d"`, principalID, count, sessTS, profTS), nil
}

// authorize accepts only a verified principal presenting its current,
// unexpired access token. Unknown principals, unverified ones, and wrong or
// stale tokens all yield ErrUnauthorized.
func (s *ProfileService) authorize(ctx context.Context, principalID, token string) error {
	if err := validPrincipal(principalID); err != nil {
		return err
	}
	if token == "" {
		return ErrUnauthorized
	}
	p, err := repo.GetPrincipal(ctx, s.DB, principalID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if p.VerifiedAt == nil || p.AccessTokenHash == nil || p.AccessExpiresAt == nil {
		return ErrUnauthorized
	}
	if !s.now().Before(*p.AccessExpiresAt) {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(*p.AccessTokenHash)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// MaskReferralCode keeps the first two characters: "K7QM2XPA" becomes
// "K7******".
func MaskReferralCode(code string) string {
	const keep = 2
	if len(code) <= keep {
		return strings.Repeat("*", len(code))
	}
	return code[:keep] + strings.Repeat("*", len(code)-keep)
}

// MatchLanguage maps a BCP 47 tag such as "de-CH" to one of the supported
// base languages.
func MatchLanguage(tag string) (string, error) {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return "", invalid("preferred_language", "not a language tag")
	}
	_, idx, conf := languageMatcher.Match(t)
	if conf == language.No {
		return "", invalid("preferred_language", "unsupported language")
	}
	base, _ := SupportedLanguages[idx].Base()
	return base.String(), nil
}

func text(field, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalid(field, "empty")
	}
	if utf8.RuneCountInString(v) > max {
		return "", invalid(field, "too long")
	}
	return v, nil
}

func swissPostalCode(v string) bool {
	if len(v) != 4 || v[0] == '0' {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

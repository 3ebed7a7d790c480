// Package domain defines the persistence models for principals, contact
// challenges, questionnaire sessions, user profiles, and referral codes.
// These types are mapped with GORM and shared by the repository and service
// layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ContactType is the delivery channel of a one-time code.
type ContactType string

const (
	ContactEmail ContactType = "email"
	ContactPhone ContactType = "phone"
)

// Valid reports whether t is a known channel.
func (t ContactType) Valid() bool {
	return t == ContactEmail || t == ContactPhone
}

// SessionStatus is the lifecycle state of a FormSession.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
	SessionExpired   SessionStatus = "expired"
)

// DefaultSessionType is used when a session is created without an explicit type.
const DefaultSessionType = "eligibility_questionnaire"

// Principal is the subject of verification: an anonymous visitor or a
// registered user. The row is created on first contact and its LastSeenAt is
// touched on every code issuance.
//
// Fields:
//   - ID: caller-supplied identifier (visitor id or user id).
//   - CreatedAt: first time the principal was seen.
//   - LastSeenAt: last OTP issuance or session creation.
//   - VerifiedAt: last successful code verification; nil until then.
//   - AccessTokenHash: SHA-256 of the bearer token granted on verification.
//   - AccessExpiresAt: end of that token's validity.
type Principal struct {
	ID              string     `json:"id"                    gorm:"type:varchar(64);primaryKey"`
	CreatedAt       time.Time  `json:"created_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"          gorm:"not null"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	AccessTokenHash *string    `json:"-"                     gorm:"type:char(64)"`
	AccessExpiresAt *time.Time `json:"-"`
}

// TableName returns the database table name for Principal.
func (Principal) TableName() string { return "principals" }

// ContactChallenge is one issued one-time code. Only the bcrypt hash of the
// code is stored. Attempts never exceed MaxAttempts and a consumed challenge
// never verifies again.
type ContactChallenge struct {
	ID            string      `json:"id"             gorm:"type:char(26);primaryKey"`
	PrincipalID   string      `json:"principal_id"   gorm:"type:varchar(64);not null;index:idx_challenge_window,priority:1"`
	SessionID     *string     `json:"session_id,omitempty" gorm:"type:char(36)"`
	ContactType   ContactType `json:"contact_type"   gorm:"type:varchar(8);not null"`
	MaskedContact string      `json:"masked_contact" gorm:"type:varchar(255);not null"`
	CodeHash      string      `json:"-"              gorm:"type:varchar(72);not null"`
	IssuedAt      time.Time   `json:"issued_at"      gorm:"not null;index:idx_challenge_window,priority:2"`
	ExpiresAt     time.Time   `json:"expires_at"     gorm:"not null;index"`
	Attempts      int         `json:"attempts"       gorm:"not null;default:0"`
	MaxAttempts   int         `json:"max_attempts"   gorm:"not null"`
	ConsumedAt    *time.Time  `json:"consumed_at,omitempty"`
}

// TableName returns the database table name for ContactChallenge.
func (ContactChallenge) TableName() string { return "contact_challenges" }

// FormSession is a resumable questionnaire keyed by a bearer token. FormData
// is a JSON object whose keys are step numbers ("0", "1", ...) and whose
// values are the per-step answer objects.
//
// The eligibility result fields are populated when the session completes.
type FormSession struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	PrincipalID   string         `json:"principal_id"   gorm:"type:varchar(64);not null;index"`
	SessionType   string         `json:"session_type"   gorm:"type:varchar(64);not null"`
	TokenHash     string         `json:"-"              gorm:"type:char(64);not null"`
	Status        SessionStatus  `json:"status"         gorm:"type:varchar(16);not null;index"`
	CurrentStep   int            `json:"current_step"   gorm:"not null;default:0"`
	FormData      datatypes.JSON `json:"form_data"`
	Score         *int           `json:"score,omitempty"`
	Pathway       string         `json:"pathway,omitempty"        gorm:"type:varchar(32)"`
	EstimatedCost *int64         `json:"estimated_cost,omitempty"`
	Urgency       string         `json:"urgency,omitempty"        gorm:"type:varchar(16)"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ExpiresAt     time.Time      `json:"expires_at"     gorm:"not null;index"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// TableName returns the database table name for FormSession.
func (FormSession) TableName() string { return "form_sessions" }

// UserProfile holds optional personal data for a principal. All fields are
// nullable so that an upsert only touches what the caller supplied.
type UserProfile struct {
	PrincipalID       string     `json:"principal_id"       gorm:"type:varchar(64);primaryKey"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
	Phone             *string    `json:"phone,omitempty"              gorm:"type:varchar(32)"`
	Street            *string    `json:"street,omitempty"             gorm:"type:varchar(255)"`
	PostalCode        *string    `json:"postal_code,omitempty"        gorm:"type:varchar(16)"`
	City              *string    `json:"city,omitempty"               gorm:"type:varchar(128)"`
	Canton            *string    `json:"canton,omitempty"             gorm:"type:char(2)"`
	PreferredLanguage *string    `json:"preferred_language,omitempty" gorm:"type:varchar(8)"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }

// ReferralCode is a short code a patient hands to a GP so the GP can look up
// the completed questionnaire. At most one unexpired row holds a given code.
type ReferralCode struct {
	ID             string     `json:"id"          gorm:"type:char(26);primaryKey"`
	Code           string     `json:"code"        gorm:"type:varchar(16);not null;index"`
	SessionID      string     `json:"session_id"  gorm:"type:char(36);not null;index"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"  gorm:"not null;index"`
	RedeemCount    int        `json:"redeem_count" gorm:"not null;default:0"`
	LastRedeemedAt *time.Time `json:"last_redeemed_at,omitempty"`
}

// TableName returns the database table name for ReferralCode.
func (ReferralCode) TableName() string { return "referral_codes" }

package domain

import "time"

// Idempotency remembers what an unsafe request produced so a retry with the
// same Idempotency-Key returns the original resource instead of repeating
// side effects such as sending another code.
//
// Keys are unique per (principal, scope). RequestHash fingerprints the body
// of the first request; a later request with the same key but a different
// body is a client error, not a replay.
type Idempotency struct {
	ID          string    `gorm:"type:char(26);primaryKey"`
	PrincipalID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_principal_scope_key,priority:1"`
	Scope       string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_idem_principal_scope_key,priority:2"`
	Key         string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_principal_scope_key,priority:3"`
	RequestHash string    `gorm:"type:char(64);not null;default:''"`
	ResourceID  string    `gorm:"type:varchar(64);not null"`
	Status      int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

func (Idempotency) TableName() string { return "idempotency_keys" }

// Matches reports whether a request with body fingerprint hash may replay
// this record. Records written without a fingerprint match anything.
func (r *Idempotency) Matches(hash string) bool {
	return r.RequestHash == "" || r.RequestHash == hash
}

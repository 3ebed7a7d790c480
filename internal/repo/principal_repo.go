package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// TouchPrincipal inserts the principal if missing and sets LastSeenAt to now.
//
// Inside a transaction this is the first write for the principal, so it also
// acquires the row (Postgres) or database (SQLite) write lock that serializes
// concurrent issuers for the same principal.
func TouchPrincipal(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	p := &domain.Principal{ID: id, CreatedAt: now, LastSeenAt: now}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{"last_seen_at": now}),
	}).Create(p).Error
}

// GetPrincipal fetches a principal by id, or ErrNotFound.
func GetPrincipal(ctx context.Context, db *gorm.DB, id string) (*domain.Principal, error) {
	var p domain.Principal
	err := db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GrantPrincipal records a successful verification: it sets VerifiedAt and
// replaces the access token hash and its expiry. The row is created if the
// principal was reaped in the meantime.
func GrantPrincipal(ctx context.Context, db *gorm.DB, id, tokenHash string, now, expiresAt time.Time) error {
	p := &domain.Principal{
		ID:              id,
		CreatedAt:       now,
		LastSeenAt:      now,
		VerifiedAt:      &now,
		AccessTokenHash: &tokenHash,
		AccessExpiresAt: &expiresAt,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_seen_at":      now,
			"verified_at":       now,
			"access_token_hash": tokenHash,
			"access_expires_at": expiresAt,
		}),
	}).Create(p).Error
}

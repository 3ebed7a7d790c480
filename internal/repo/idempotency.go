package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
	"github.com/tbourn/go-eligibility-backend/internal/ids"
)

// IdempotencyEntry is what a handler records after an unsafe request
// succeeded.
type IdempotencyEntry struct {
	PrincipalID string
	Scope       string
	Key         string
	RequestHash string
	ResourceID  string
	Status      int
	TTL         time.Duration
}

// GetIdempotency returns the live record for (principal, scope, key) or
// ErrNotFound. Blank principal or key never match.
func GetIdempotency(ctx context.Context, db *gorm.DB, principalID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(principalID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("principal_id = ? AND scope = ? AND key = ? AND expires_at > ?", principalID, scope, key, now.UTC()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotency records e as of now. A live record for the same
// (principal, scope, key) yields ErrDuplicate; an expired one is replaced.
func SaveIdempotency(ctx context.Context, db *gorm.DB, e IdempotencyEntry, now time.Time) (*domain.Idempotency, error) {
	now = now.UTC()
	rec := &domain.Idempotency{
		ID:          ids.NewAt(now),
		PrincipalID: e.PrincipalID,
		Scope:       e.Scope,
		Key:         e.Key,
		RequestHash: e.RequestHash,
		ResourceID:  e.ResourceID,
		Status:      e.Status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.TTL),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("principal_id = ? AND scope = ? AND key = ? AND expires_at <= ?",
			e.PrincipalID, e.Scope, e.Key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredIdempotency removes records that expired before cutoff.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

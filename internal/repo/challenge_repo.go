package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// CreateChallenge inserts a new contact challenge.
func CreateChallenge(ctx context.Context, db *gorm.DB, c *domain.ContactChallenge) error {
	return db.WithContext(ctx).Create(c).Error
}

// GetChallenge fetches a challenge by id, or ErrNotFound.
func GetChallenge(ctx context.Context, db *gorm.DB, id string) (*domain.ContactChallenge, error) {
	var c domain.ContactChallenge
	err := db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// IssuedSince returns the issuance timestamps of a principal's challenges
// issued strictly after since, oldest first.
func IssuedSince(ctx context.Context, db *gorm.DB, principalID string, since time.Time) ([]time.Time, error) {
	var out []time.Time
	err := db.WithContext(ctx).
		Model(&domain.ContactChallenge{}).
		Where("principal_id = ? AND issued_at > ?", principalID, since).
		Order("issued_at ASC").
		Pluck("issued_at", &out).Error
	return out, err
}

// ReserveAttempt atomically counts one verification attempt against a live
// challenge and returns the row as this call left it. It returns nil when the
// challenge is unknown, consumed, expired, or already out of attempts; in
// that case nothing is written.
//
// The guard and the increment are a single UPDATE, so two concurrent wrong
// guesses are both counted and neither can exceed max_attempts. The read
// shares the UPDATE's transaction and row lock, so Attempts is the count this
// call reserved, not a later one.
func ReserveAttempt(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.ContactChallenge, error) {
	var out *domain.ContactChallenge
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.ContactChallenge{}).
			Where("id = ? AND consumed_at IS NULL AND attempts < max_attempts AND expires_at > ?", id, now).
			UpdateColumn("attempts", gorm.Expr("attempts + 1"))
		if res.Error != nil || res.RowsAffected != 1 {
			return res.Error
		}
		var c domain.ContactChallenge
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			return err
		}
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConsumeChallenge marks a challenge consumed if nobody else did first.
func ConsumeChallenge(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ContactChallenge{}).
		Where("id = ? AND consumed_at IS NULL", id).
		UpdateColumn("consumed_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListChallengesByPrincipal returns all challenges of a principal, newest first.
func ListChallengesByPrincipal(ctx context.Context, db *gorm.DB, principalID string) ([]domain.ContactChallenge, error) {
	var out []domain.ContactChallenge
	err := db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("issued_at DESC").
		Find(&out).Error
	return out, err
}

// DeleteExpiredChallenges removes challenges that expired before cutoff.
// Expiry is enforced at verification time; this is storage hygiene only.
func DeleteExpiredChallenges(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&domain.ContactChallenge{})
	return res.RowsAffected, res.Error
}

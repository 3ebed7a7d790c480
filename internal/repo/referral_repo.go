package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// CreateReferral inserts a referral code row.
func CreateReferral(ctx context.Context, db *gorm.DB, r *domain.ReferralCode) error {
	return db.WithContext(ctx).Create(r).Error
}

// ActiveReferralForSession returns the newest unexpired code of a session,
// or ErrNotFound.
func ActiveReferralForSession(ctx context.Context, db *gorm.DB, sessionID string, now time.Time) (*domain.ReferralCode, error) {
	var r domain.ReferralCode
	err := db.WithContext(ctx).
		Where("session_id = ? AND expires_at > ?", sessionID, now).
		Order("created_at DESC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// referralLockClass namespaces referral advisory locks in Postgres.
const referralLockClass = 0x52454652

// LockReferralCode serializes writers of the same code until the surrounding
// transaction ends. Postgres takes a transaction-scoped advisory lock keyed on
// the code, so an insert-then-count under READ COMMITTED sees every competing
// row that committed first. SQLite needs nothing: its first write already
// holds the database lock.
func LockReferralCode(ctx context.Context, tx *gorm.DB, code string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(?, hashtext(?))", referralLockClass, code).Error
}

// CountActiveByCode counts unexpired rows holding code, other than excludeID.
func CountActiveByCode(ctx context.Context, db *gorm.DB, code, excludeID string, now time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ReferralCode{}).
		Where("code = ? AND id <> ? AND expires_at > ?", code, excludeID, now).
		Count(&n).Error
	return n, err
}

// LatestByCode returns the most recently created row for code, expired or
// not, or ErrNotFound.
func LatestByCode(ctx context.Context, db *gorm.DB, code string) (*domain.ReferralCode, error) {
	var r domain.ReferralCode
	err := db.WithContext(ctx).
		Where("code = ?", code).
		Order("created_at DESC").
		Order("id DESC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkRedeemed increments the redemption counter of a referral row.
func MarkRedeemed(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.ReferralCode{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"redeem_count":     gorm.Expr("redeem_count + 1"),
			"last_redeemed_at": now,
		}).Error
}

// ListReferralsBySessions returns every referral row of the given sessions.
func ListReferralsBySessions(ctx context.Context, db *gorm.DB, sessionIDs []string) ([]domain.ReferralCode, error) {
	if len(sessionIDs) == 0 {
		return []domain.ReferralCode{}, nil
	}
	var out []domain.ReferralCode
	err := db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

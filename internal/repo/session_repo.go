package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// CreateSession inserts a new form session.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.FormSession) error {
	return db.WithContext(ctx).Create(s).Error
}

// GetSession fetches a session by id, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.FormSession, error) {
	var s domain.FormSession
	err := db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LockSession bumps updated_at on the session matching both id and token
// hash, and reports whether such a row exists. Run as the first statement of
// a transaction, it takes the write lock so that concurrent read-merge-write
// cycles on the same session serialize instead of losing steps.
func LockSession(ctx context.Context, db *gorm.DB, id, tokenHash string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.FormSession{}).
		Where("id = ? AND token_hash = ?", id, tokenHash).
		UpdateColumn("updated_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SaveSessionData stores merged form data, the declared current step, and the
// slid expiry.
func SaveSessionData(ctx context.Context, db *gorm.DB, id string, data datatypes.JSON, step int, expiresAt, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.FormSession{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"form_data":    data,
			"current_step": step,
			"expires_at":   expiresAt,
			"updated_at":   now,
		}).Error
}

// SetSessionStatus moves a session to status.
func SetSessionStatus(ctx context.Context, db *gorm.DB, id string, status domain.SessionStatus, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.FormSession{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{"status": status, "updated_at": now}).Error
}

// CompleteSession attaches the eligibility result and marks the session
// completed. It only transitions active sessions and reports whether it did.
func CompleteSession(ctx context.Context, db *gorm.DB, id string, score int, pathway string, cost int64, urgency string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.FormSession{}).
		Where("id = ? AND status = ?", id, domain.SessionActive).
		UpdateColumns(map[string]any{
			"status":         domain.SessionCompleted,
			"score":          score,
			"pathway":        pathway,
			"estimated_cost": cost,
			"urgency":        urgency,
			"completed_at":   now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListSessionsByPrincipal returns a principal's sessions, newest first.
func ListSessionsByPrincipal(ctx context.Context, db *gorm.DB, principalID string) ([]domain.FormSession, error) {
	var out []domain.FormSession
	err := db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

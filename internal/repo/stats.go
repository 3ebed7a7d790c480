package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// SessionsStats returns the number of sessions owned by principalID and the
// greatest UpdatedAt among them. When there are none, maxUpdatedAt is nil.
func SessionsStats(ctx context.Context, db *gorm.DB, principalID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.FormSession{}).Where("principal_id = ?", principalID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// ProfileUpdatedAt returns the UpdatedAt of a principal's profile, or nil
// when there is no profile.
func ProfileUpdatedAt(ctx context.Context, db *gorm.DB, principalID string) (*time.Time, error) {
	var rows []time.Time
	err := db.WithContext(ctx).
		Model(&domain.UserProfile{}).
		Where("principal_id = ?", principalID).
		Limit(1).
		Pluck("updated_at", &rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

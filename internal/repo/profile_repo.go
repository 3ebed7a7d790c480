package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// GetProfile fetches the profile of a principal, or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, principalID string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := db.WithContext(ctx).First(&p, "principal_id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProfile inserts p, or on conflict updates only the named columns so
// that fields the caller did not supply are never overwritten.
func UpsertProfile(ctx context.Context, db *gorm.DB, p *domain.UserProfile, columns []string) error {
	cols := append(append([]string(nil), columns...), "updated_at")
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(p).Error
}

package db

import (
	"context"
	"errors"

	"keystone/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SuspensionRepository struct {
	db *gorm.DB
}

func NewSuspensionRepository(db *gorm.DB) *SuspensionRepository {
	return &SuspensionRepository{db: db}
}

func (r *SuspensionRepository) SaveSuspension(ctx context.Context, suspension domain.Suspension) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	model := SuspensionModel{
		UserID:         suspension.UserID,
		SuspendedAt:    suspension.SuspendedAt,
		SuspendedUntil: suspension.SuspendedUntil,
		Reason:         suspension.Reason,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, UpdateAll: true}).
		Create(&model).Error
}

func (r *SuspensionRepository) GetSuspension(ctx context.Context, userID string) (*domain.Suspension, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var model SuspensionModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.Suspension{
		UserID:         model.UserID,
		SuspendedAt:    model.SuspendedAt,
		SuspendedUntil: model.SuspendedUntil,
		Reason:         model.Reason,
	}, nil
}

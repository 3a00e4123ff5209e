package db

import (
	"context"
	"encoding/json"
	"errors"

	"keystone/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeploymentRepository struct {
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

func (r *DeploymentRepository) SaveDeployment(ctx context.Context, record domain.DeploymentRecord) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	tiersJSON, err := json.Marshal(record.Tiers)
	if err != nil {
		return err
	}
	model := DeploymentModel{
		ID:         record.ID,
		KeyID:      record.KeyID,
		Status:     string(record.Status),
		TiersJSON:  tiersJSON,
		RollbackOf: stringPtrIfNotEmpty(record.RollbackOf),
		StartedAt:  record.StartedAt,
	}
	if !record.FinishedAt.IsZero() {
		finished := record.FinishedAt
		model.FinishedAt = &finished
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&model).Error
}

func (r *DeploymentRepository) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var model DeploymentModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var tiers []domain.TierResult
	if err := json.Unmarshal(model.TiersJSON, &tiers); err != nil {
		return nil, err
	}
	record := domain.DeploymentRecord{
		ID:         model.ID,
		KeyID:      model.KeyID,
		Status:     domain.DeploymentStatus(model.Status),
		Tiers:      tiers,
		RollbackOf: stringFromPtr(model.RollbackOf),
		StartedAt:  model.StartedAt,
	}
	if model.FinishedAt != nil {
		record.FinishedAt = *model.FinishedAt
	}
	return &record, nil
}

package db

import (
	"context"

	"keystone/internal/domain"
	"keystone/internal/infra/registry"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyRepository persists signing keys for the registry. SaveKeys writes the
// whole batch in one transaction so a crash can never leave two primaries.
type KeyRepository struct {
	db *gorm.DB
}

var _ registry.KeyStore = (*KeyRepository)(nil)

func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) SaveKeys(ctx context.Context, keys ...*domain.SigningKey) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	if len(keys) == 0 {
		return nil
	}
	models := make([]SigningKeyModel, 0, len(keys))
	for _, key := range keys {
		models = append(models, keyToModel(key))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range models {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&models[i]).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *KeyRepository) ListKeys(ctx context.Context) ([]*domain.SigningKey, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SigningKeyModel
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	keys := make([]*domain.SigningKey, 0, len(models))
	for _, model := range models {
		keys = append(keys, modelToKey(model))
	}
	return keys, nil
}

func keyToModel(key *domain.SigningKey) SigningKeyModel {
	return SigningKeyModel{
		ID:           key.ID,
		Algorithm:    string(key.Algorithm),
		StrengthBits: key.StrengthBits,
		Status:       string(key.Status),
		AccessLevel:  string(key.AccessLevel),
		Secret:       append([]byte(nil), key.Secret...),
		CreatedAt:    key.CreatedAt,
		ExpiresAt:    key.ExpiresAt,
		RetiredAt:    key.RetiredAt,
	}
}

func modelToKey(model SigningKeyModel) *domain.SigningKey {
	return &domain.SigningKey{
		ID:           model.ID,
		Algorithm:    domain.KeyAlgorithm(model.Algorithm),
		StrengthBits: model.StrengthBits,
		Status:       domain.KeyStatus(model.Status),
		AccessLevel:  domain.AccessLevel(model.AccessLevel),
		Secret:       append([]byte(nil), model.Secret...),
		CreatedAt:    model.CreatedAt,
		ExpiresAt:    model.ExpiresAt,
		RetiredAt:    model.RetiredAt,
	}
}

package db

import (
	"context"
	"time"

	"keystone/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevocationRepository is the durable revocation ledger. The first write for
// a token reference wins; later revocations of the same token are no-ops.
type RevocationRepository struct {
	db *gorm.DB
}

func NewRevocationRepository(db *gorm.DB) *RevocationRepository {
	return &RevocationRepository{db: db}
}

func (r *RevocationRepository) Revoke(ctx context.Context, entry domain.RevocationEntry) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	model := RevocationModel{
		TokenRef:  entry.TokenRef,
		UserID:    entry.UserID,
		RevokedAt: entry.RevokedAt,
		ExpiresAt: entry.ExpiresAt,
		Reason:    string(entry.Reason),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
}

func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenRef string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RevocationModel{}).
		Where("token_ref = ?", tokenRef).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Cleanup removes entries whose tokens have expired on their own.
func (r *RevocationRepository) Cleanup(ctx context.Context, now time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&RevocationModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

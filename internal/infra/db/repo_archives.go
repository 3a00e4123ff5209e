package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveRepository snapshots account state before deletion. The snapshot
// captures the suspension row if any; the session store owning the raw
// tokens archives its own side.
type ArchiveRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewArchiveRepository(db *gorm.DB, clock func() time.Time) *ArchiveRepository {
	if clock == nil {
		clock = time.Now
	}
	return &ArchiveRepository{db: db, clock: clock}
}

func (r *ArchiveRepository) ArchiveUserData(ctx context.Context, userID string) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	snapshot := map[string]any{"user_id": userID}
	var suspension SuspensionModel
	err := r.db.WithContext(ctx).First(&suspension, "user_id = ?", userID).Error
	switch {
	case err == nil:
		snapshot["suspension"] = suspension
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	model := ArchiveModel{
		UserID:      userID,
		ArchivedAt:  r.clock().UTC(),
		PayloadJSON: payload,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, UpdateAll: true}).
		Create(&model).Error
}

package claim

import (
	"context"
	"errors"

	"github.com/kasuganosora/engagebot/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists claim records keyed by (user, reward key).
type Store interface {
	// Get returns the record and whether it exists.
	Get(ctx context.Context, userID int64, rewardKey string) (model.ClaimRecord, bool, error)
	// Save upserts rec by (user, reward key).
	Save(ctx context.Context, rec model.ClaimRecord) error
	Delete(ctx context.Context, userID int64, rewardKey string) error
}

// GormStore is a Store on the claim_records table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) Get(ctx context.Context, userID int64, rewardKey string) (model.ClaimRecord, bool, error) {
	var rec model.ClaimRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND reward_key = ?", userID, rewardKey).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ClaimRecord{}, false, nil
	}
	if err != nil {
		return model.ClaimRecord{}, false, err
	}
	return rec, true, nil
}

func (s *GormStore) Save(ctx context.Context, rec model.ClaimRecord) error {
	rec.ID = 0
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "reward_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_claimed_at", "claim_count", "updated_at"}),
	}).Create(&rec).Error
}

func (s *GormStore) Delete(ctx context.Context, userID int64, rewardKey string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND reward_key = ?", userID, rewardKey).
		Delete(&model.ClaimRecord{}).Error
}

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists combination entries, collected hints and unlock grants.
type Store interface {
	CreateEntry(ctx context.Context, code string, hints []string, rewardCode string) (model.CombinationEntry, error)
	GetEntry(ctx context.Context, code string) (model.CombinationEntry, error)
	// ListEntries returns entries in insertion order.
	ListEntries(ctx context.Context) ([]model.CombinationEntry, error)

	AddHint(ctx context.Context, userID int64, hint string, at time.Time) error
	ListHints(ctx context.Context, userID int64) ([]string, error)

	GrantedRewards(ctx context.Context, userID int64) (map[string]bool, error)
	// MarkGranted inserts the grant marker and reports whether it was new.
	MarkGranted(ctx context.Context, userID int64, rewardCode, combinationCode string, at time.Time) (bool, error)
	UnmarkGranted(ctx context.Context, userID int64, rewardCode string) error
}

// GormStore implements Store with gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) exists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.CombinationEntry{}).Where("code = ?", code).Count(&n).Error
	return n > 0, err
}

func (s *GormStore) CreateEntry(ctx context.Context, code string, hints []string, rewardCode string) (model.CombinationEntry, error) {
	raw, err := json.Marshal(hints)
	if err != nil {
		return model.CombinationEntry{}, errs.Invalid("encode hints: %v", err)
	}
	found, err := s.exists(ctx, code)
	if err != nil {
		return model.CombinationEntry{}, errs.Storage("vault.create_entry", err)
	}
	if found {
		return model.CombinationEntry{}, errs.ErrDuplicateCode
	}
	entry := model.CombinationEntry{Code: code, RequiredHints: datatypes.JSON(raw), RewardCode: rewardCode}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		// Lost a race against another writer of the same code.
		if found, _ := s.exists(ctx, code); found {
			return model.CombinationEntry{}, errs.ErrDuplicateCode
		}
		return model.CombinationEntry{}, errs.Storage("vault.create_entry", err)
	}
	return entry, nil
}

func (s *GormStore) GetEntry(ctx context.Context, code string) (model.CombinationEntry, error) {
	var entry model.CombinationEntry
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entry, errs.ErrNotFound
	}
	if err != nil {
		return entry, errs.Storage("vault.get_entry", err)
	}
	return entry, nil
}

func (s *GormStore) ListEntries(ctx context.Context) ([]model.CombinationEntry, error) {
	var entries []model.CombinationEntry
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, errs.Storage("vault.list_entries", err)
	}
	return entries, nil
}

func (s *GormStore) AddHint(ctx context.Context, userID int64, hint string, at time.Time) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CollectedHint{UserID: userID, HintCode: hint, CollectedAt: at}).Error
	return errs.Storage("vault.add_hint", err)
}

func (s *GormStore) ListHints(ctx context.Context, userID int64) ([]string, error) {
	var hints []string
	err := s.db.WithContext(ctx).Model(&model.CollectedHint{}).
		Where("user_id = ?", userID).Order("id ASC").Pluck("hint_code", &hints).Error
	if err != nil {
		return nil, errs.Storage("vault.list_hints", err)
	}
	return hints, nil
}

func (s *GormStore) GrantedRewards(ctx context.Context, userID int64) (map[string]bool, error) {
	var codes []string
	err := s.db.WithContext(ctx).Model(&model.UnlockGrant{}).
		Where("user_id = ?", userID).Pluck("reward_code", &codes).Error
	if err != nil {
		return nil, errs.Storage("vault.granted_rewards", err)
	}
	granted := make(map[string]bool, len(codes))
	for _, c := range codes {
		granted[c] = true
	}
	return granted, nil
}

func (s *GormStore) MarkGranted(ctx context.Context, userID int64, rewardCode, combinationCode string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.UnlockGrant{UserID: userID, RewardCode: rewardCode, CombinationCode: combinationCode, GrantedAt: at})
	if res.Error != nil {
		return false, errs.Storage("vault.mark_granted", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) UnmarkGranted(ctx context.Context, userID int64, rewardCode string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND reward_code = ?", userID, rewardCode).
		Delete(&model.UnlockGrant{}).Error
	return errs.Storage("vault.unmark_granted", err)
}

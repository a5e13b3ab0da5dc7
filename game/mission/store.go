package mission

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgressSource fetches a user's current counters.
type ProgressSource interface {
	Progress(ctx context.Context, userID int64) (Progress, error)
}

// CounterStore keeps activity counters in model.ProgressCounter. It is both
// the progress tracker and the default ProgressSource.
type CounterStore struct {
	db *gorm.DB
}

func NewCounterStore(db *gorm.DB) *CounterStore { return &CounterStore{db: db} }

func (s *CounterStore) Progress(ctx context.Context, userID int64) (Progress, error) {
	var rows []model.ProgressCounter
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, errs.Storage("mission.progress", err)
	}
	p := make(Progress, len(rows))
	for _, r := range rows {
		p[r.Counter] = r.Value
	}
	return p, nil
}

// Track adds delta to the named counter and returns its new value.
func (s *CounterStore) Track(ctx context.Context, userID int64, counter string, delta int64) (int64, error) {
	if counter == "" {
		return 0, errs.Invalid("empty counter name")
	}
	if model.KeyTooLong(counter) {
		return 0, errs.Invalid("counter name exceeds %d characters", model.MaxKeyLen)
	}
	var out int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "counter"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":      gorm.Expr("value + ?", delta),
				"updated_at": time.Now(),
			}),
		}).Create(&model.ProgressCounter{UserID: userID, Counter: counter, Value: delta}).Error
		if err != nil {
			return err
		}
		return tx.Model(&model.ProgressCounter{}).
			Where("user_id = ? AND counter = ?", userID, counter).
			Pluck("value", &out).Error
	})
	if err != nil {
		return 0, errs.Storage("mission.track", err)
	}
	return out, nil
}

// CompletionStore records which missions a user has completed.
type CompletionStore interface {
	Completed(ctx context.Context, userID int64) (map[string]bool, error)
	IsCompleted(ctx context.Context, userID int64, missionID string) (bool, error)
	// MarkCompleted inserts the completion and reports whether it was new.
	MarkCompleted(ctx context.Context, userID int64, missionID string, at time.Time) (bool, error)
}

// GormCompletionStore implements CompletionStore on model.MissionProgress.
type GormCompletionStore struct {
	db *gorm.DB
}

func NewGormCompletionStore(db *gorm.DB) *GormCompletionStore {
	return &GormCompletionStore{db: db}
}

func (s *GormCompletionStore) Completed(ctx context.Context, userID int64) (map[string]bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.MissionProgress{}).
		Where("user_id = ? AND completed = ?", userID, true).
		Pluck("mission_id", &ids).Error
	if err != nil {
		return nil, errs.Storage("mission.completed", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *GormCompletionStore) IsCompleted(ctx context.Context, userID int64, missionID string) (bool, error) {
	var mp model.MissionProgress
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND mission_id = ?", userID, missionID).
		First(&mp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errs.Storage("mission.is_completed", err)
	}
	return mp.Completed, nil
}

func (s *GormCompletionStore) MarkCompleted(ctx context.Context, userID int64, missionID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.MissionProgress{UserID: userID, MissionID: missionID, Completed: true, CompletedAt: &at})
	if res.Error != nil {
		return false, errs.Storage("mission.mark_completed", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	// A row may exist with completed still false.
	res = s.db.WithContext(ctx).Model(&model.MissionProgress{}).
		Where("user_id = ? AND mission_id = ? AND completed = ?", userID, missionID, false).
		Updates(map[string]interface{}{"completed": true, "completed_at": at})
	if res.Error != nil {
		return false, errs.Storage("mission.mark_completed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

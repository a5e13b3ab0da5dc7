// Package reward hands out points and reward codes. The engine only depends on
// Granter; Wallet is the default gorm-backed implementation.
package reward

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/engagebot/audit"
	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Granter is the outbound reward collaborator.
type Granter interface {
	GrantPoints(ctx context.Context, userID, points int64, reason string) error
	GrantCode(ctx context.Context, userID int64, code, reason string) error
}

// Wallet credits points to model.Wallet and stores codes as model.RewardItem.
type Wallet struct {
	db     *gorm.DB
	audit  *audit.Service
	logger *zap.Logger
}

// NewWallet creates a Wallet. auditSvc may be nil.
func NewWallet(db *gorm.DB, auditSvc *audit.Service, logger *zap.Logger) *Wallet {
	return &Wallet{db: db, audit: auditSvc, logger: logger}
}

// GrantPoints adds points to the user's balance, creating the wallet on first use.
func (w *Wallet) GrantPoints(ctx context.Context, userID, points int64, reason string) error {
	if points <= 0 {
		return errs.Invalid("points must be positive, got %d", points)
	}
	err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", points),
			"updated_at": time.Now(),
		}),
	}).Create(&model.Wallet{UserID: userID, Balance: points}).Error
	w.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionGrantPoints, Points: points, Reason: reason, Err: err})
	if err != nil {
		w.logger.Error("grant points failed",
			zap.Int64("user_id", userID), zap.Int64("points", points), zap.Error(err))
		return errs.Storage("reward.grant_points", err)
	}
	w.logger.Info("points granted",
		zap.Int64("user_id", userID), zap.Int64("points", points), zap.String("reason", reason))
	return nil
}

// GrantCode delivers a reward code to the user.
func (w *Wallet) GrantCode(ctx context.Context, userID int64, code, reason string) error {
	if code == "" {
		return errs.Invalid("empty reward code")
	}
	err := w.db.WithContext(ctx).Create(&model.RewardItem{UserID: userID, Code: code, Reason: reason}).Error
	w.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionGrantCode, Code: code, Reason: reason, Err: err})
	if err != nil {
		w.logger.Error("grant code failed",
			zap.Int64("user_id", userID), zap.String("code", code), zap.Error(err))
		return errs.Storage("reward.grant_code", err)
	}
	w.logger.Info("code granted",
		zap.Int64("user_id", userID), zap.String("code", code), zap.String("reason", reason))
	return nil
}

// Balance returns the user's point balance; users without a wallet have 0.
func (w *Wallet) Balance(ctx context.Context, userID int64) (int64, error) {
	var wallet model.Wallet
	err := w.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Storage("reward.balance", err)
	}
	return wallet.Balance, nil
}

// Items lists the reward codes delivered to the user, oldest first.
func (w *Wallet) Items(ctx context.Context, userID int64) ([]model.RewardItem, error) {
	var items []model.RewardItem
	if err := w.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, errs.Storage("reward.items", err)
	}
	return items, nil
}

func (w *Wallet) record(ctx context.Context, e audit.Entry) {
	if w.audit == nil {
		return
	}
	e.TraceID = audit.TraceID(ctx)
	w.audit.Log(e)
}

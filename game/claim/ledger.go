// Package claim enforces once-per-period rewards such as the daily gift.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/keylock"
	"github.com/kasuganosora/engagebot/model"
	"go.uber.org/zap"
)

// Claim is the outcome of TryClaim. A denied claim has Amount 0 and NextAt
// set to the earliest time the reward can be claimed again.
type Claim struct {
	Granted bool      `json:"granted"`
	Amount  int64     `json:"amount"`
	NextAt  time.Time `json:"next_at"`
}

// Status is a read-only view of a user's claim state.
type Status struct {
	Available     bool      `json:"available"`
	LastClaimedAt time.Time `json:"last_claimed_at,omitempty"`
	NextAt        time.Time `json:"next_at,omitempty"`
	Count         int64     `json:"count"`
}

// Ledger tracks per-user, per-reward claim timestamps.
type Ledger struct {
	store   Store
	amounts AmountProvider
	granter reward.Granter
	locker  keylock.Locker
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithLocker replaces the default in-process key lock.
func WithLocker(lk keylock.Locker) Option { return func(l *Ledger) { l.locker = lk } }

// NewLedger creates a Ledger.
func NewLedger(store Store, amounts AmountProvider, granter reward.Granter, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		amounts: amounts,
		granter: granter,
		locker:  keylock.NewLocal(),
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func lockKey(userID int64, rewardKey string) string {
	return fmt.Sprintf("claim:%d:%s", userID, rewardKey)
}

// TryClaim grants rewardKey to userID when it was never claimed or at least
// period has elapsed since the last successful claim. The check, the record
// update and the grant run under one per-(user, key) lock. If the grant fails
// the record is put back as it was and a StorageError is returned.
func (l *Ledger) TryClaim(ctx context.Context, userID int64, rewardKey string, period time.Duration) (Claim, error) {
	if rewardKey == "" {
		return Claim{}, errs.Invalid("empty reward key")
	}
	if model.KeyTooLong(rewardKey) {
		return Claim{}, errs.Invalid("reward key exceeds %d characters", model.MaxKeyLen)
	}
	if period <= 0 {
		return Claim{}, errs.Invalid("claim period must be positive, got %s", period)
	}

	unlock, err := l.locker.Lock(ctx, lockKey(userID, rewardKey))
	if err != nil {
		return Claim{}, err
	}
	defer unlock()

	prev, found, err := l.store.Get(ctx, userID, rewardKey)
	if err != nil {
		l.logger.Error("load claim record failed",
			zap.Int64("user_id", userID), zap.String("reward_key", rewardKey), zap.Error(err))
		return Claim{}, errs.Storage("claim.get", err)
	}

	now := l.now()
	if found && now.Sub(prev.LastClaimedAt) < period {
		return Claim{NextAt: prev.LastClaimedAt.Add(period)}, nil
	}

	next := model.ClaimRecord{
		UserID:        userID,
		RewardKey:     rewardKey,
		LastClaimedAt: now,
		ClaimCount:    prev.ClaimCount + 1,
	}
	if err := l.store.Save(ctx, next); err != nil {
		l.logger.Error("save claim record failed",
			zap.Int64("user_id", userID), zap.String("reward_key", rewardKey), zap.Error(err))
		return Claim{}, errs.Storage("claim.save", err)
	}

	amount := l.amounts.Amount(rewardKey)
	if amount > 0 {
		if err := l.granter.GrantPoints(ctx, userID, amount, "claim:"+rewardKey); err != nil {
			l.restore(ctx, prev, found, userID, rewardKey)
			l.logger.Error("claim grant failed",
				zap.Int64("user_id", userID), zap.String("reward_key", rewardKey), zap.Error(err))
			return Claim{}, errs.Storage("claim.grant", err)
		}
	}

	l.logger.Info("reward claimed",
		zap.Int64("user_id", userID), zap.String("reward_key", rewardKey), zap.Int64("amount", amount))
	return Claim{Granted: true, Amount: amount, NextAt: now.Add(period)}, nil
}

func (l *Ledger) restore(ctx context.Context, prev model.ClaimRecord, found bool, userID int64, rewardKey string) {
	// Restore even when ctx is already cancelled.
	ctx = context.WithoutCancel(ctx)
	var err error
	if found {
		err = l.store.Save(ctx, prev)
	} else {
		err = l.store.Delete(ctx, userID, rewardKey)
	}
	if err != nil {
		l.logger.Error("restore claim record failed",
			zap.Int64("user_id", userID), zap.String("reward_key", rewardKey), zap.Error(err))
	}
}

// Status reports whether rewardKey can currently be claimed by userID.
func (l *Ledger) Status(ctx context.Context, userID int64, rewardKey string, period time.Duration) (Status, error) {
	rec, found, err := l.store.Get(ctx, userID, rewardKey)
	if err != nil {
		return Status{}, errs.Storage("claim.get", err)
	}
	if !found {
		return Status{Available: true}, nil
	}
	next := rec.LastClaimedAt.Add(period)
	return Status{
		Available:     !l.now().Before(next),
		LastClaimedAt: rec.LastClaimedAt,
		NextAt:        next,
		Count:         rec.ClaimCount,
	}, nil
}

// GrantPoints grants points without touching any claim record. Missions and
// quizzes use it.
func (l *Ledger) GrantPoints(ctx context.Context, userID, points int64, reason string) error {
	if points <= 0 {
		return errs.Invalid("points must be positive, got %d", points)
	}
	if err := l.granter.GrantPoints(ctx, userID, points, reason); err != nil {
		l.logger.Error("grant points failed",
			zap.Int64("user_id", userID), zap.Int64("points", points), zap.String("reason", reason), zap.Error(err))
		return errs.Storage("claim.grant_points", err)
	}
	return nil
}

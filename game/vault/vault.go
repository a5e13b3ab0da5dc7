// Package vault implements the combination-lock puzzle: a reward code unlocks
// once a user has collected every hint code an entry requires.
package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/keylock"
	"github.com/kasuganosora/engagebot/model"
	"go.uber.org/zap"
)

// Entry is the decoded form of a combination entry.
type Entry struct {
	Code          string   `json:"code"`
	RequiredHints []string `json:"required_hints"`
	RewardCode    string   `json:"reward_code"`
}

func toEntry(m model.CombinationEntry) Entry {
	return Entry{Code: m.Code, RequiredHints: m.Hints(), RewardCode: m.RewardCode}
}

// Vault evaluates collected hints against combination entries.
type Vault struct {
	store   Store
	granter reward.Granter
	locker  keylock.Locker
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Vault)

func WithClock(now func() time.Time) Option { return func(v *Vault) { v.now = now } }

func WithLocker(lk keylock.Locker) Option { return func(v *Vault) { v.locker = lk } }

// New creates a Vault. granter receives every unlocked reward code.
func New(store Store, granter reward.Granter, logger *zap.Logger, opts ...Option) *Vault {
	v := &Vault{
		store:   store,
		granter: granter,
		locker:  keylock.NewLocal(),
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func normalizeHints(hints []string) []string {
	seen := make(map[string]bool, len(hints))
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// AddEntry registers a combination. The hint set is order independent;
// blanks and duplicates are dropped before the non-empty check.
func (v *Vault) AddEntry(ctx context.Context, code string, requiredHints []string, rewardCode string) (Entry, error) {
	code = strings.TrimSpace(code)
	rewardCode = strings.TrimSpace(rewardCode)
	hints := normalizeHints(requiredHints)
	switch {
	case code == "":
		return Entry{}, errs.Invalid("combination code is required")
	case rewardCode == "":
		return Entry{}, errs.Invalid("reward code is required for %q", code)
	case len(hints) == 0:
		return Entry{}, errs.Invalid("combination %q requires at least one hint", code)
	case model.KeyTooLong(code), model.KeyTooLong(rewardCode):
		return Entry{}, errs.Invalid("combination and reward codes are limited to %d characters", model.MaxKeyLen)
	}
	for _, h := range hints {
		if model.KeyTooLong(h) {
			return Entry{}, errs.Invalid("hint code exceeds %d characters", model.MaxKeyLen)
		}
	}

	unlock, err := v.locker.Lock(ctx, "vault:entry:"+code)
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	m, err := v.store.CreateEntry(ctx, code, hints, rewardCode)
	if err != nil {
		return Entry{}, err
	}
	v.logger.Info("combination added", zap.String("code", code), zap.Strings("hints", hints))
	return toEntry(m), nil
}

// Entry returns the combination with the given code or errs.ErrNotFound.
func (v *Vault) Entry(ctx context.Context, code string) (Entry, error) {
	m, err := v.store.GetEntry(ctx, strings.TrimSpace(code))
	if err != nil {
		return Entry{}, err
	}
	return toEntry(m), nil
}

// Entries lists every combination in insertion order.
func (v *Vault) Entries(ctx context.Context) ([]Entry, error) {
	ms, err := v.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ms))
	for _, m := range ms {
		out = append(out, toEntry(m))
	}
	return out, nil
}

// RecordHint adds hint to the user's collection. Collecting it again is a no-op.
func (v *Vault) RecordHint(ctx context.Context, userID int64, hint string) error {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return errs.Invalid("empty hint code")
	}
	if model.KeyTooLong(hint) {
		return errs.Invalid("hint code exceeds %d characters", model.MaxKeyLen)
	}
	if err := v.store.AddHint(ctx, userID, hint, v.now()); err != nil {
		v.logger.Error("record hint failed", zap.Int64("user_id", userID), zap.String("hint", hint), zap.Error(err))
		return err
	}
	return nil
}

// Hints lists the user's collected hints in collection order.
func (v *Vault) Hints(ctx context.Context, userID int64) ([]string, error) {
	return v.store.ListHints(ctx, userID)
}

func userLockKey(userID int64) string { return fmt.Sprintf("vault:user:%d", userID) }

// EvaluateUnlocks grants every reward whose entry's hints are all collected
// and that the user does not hold yet, in entry insertion order. Extra hints
// never block a match. Calling it again without new hints returns nothing.
//
// When a grant fails its marker is removed and evaluation stops; the codes
// unlocked before the failure are returned along with the error.
func (v *Vault) EvaluateUnlocks(ctx context.Context, userID int64) ([]string, error) {
	unlock, err := v.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	hints, err := v.store.ListHints(ctx, userID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(hints))
	for _, h := range hints {
		have[h] = true
	}
	entries, err := v.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	granted, err := v.store.GrantedRewards(ctx, userID)
	if err != nil {
		return nil, err
	}

	var unlocked []string
	for _, e := range entries {
		if granted[e.RewardCode] || !satisfied(e.Hints(), have) {
			continue
		}
		fresh, err := v.store.MarkGranted(ctx, userID, e.RewardCode, e.Code, v.now())
		if err != nil {
			return unlocked, err
		}
		granted[e.RewardCode] = true
		if !fresh {
			continue
		}
		if err := v.granter.GrantCode(ctx, userID, e.RewardCode, "combination:"+e.Code); err != nil {
			if uerr := v.store.UnmarkGranted(context.WithoutCancel(ctx), userID, e.RewardCode); uerr != nil {
				v.logger.Error("unmark unlock failed",
					zap.Int64("user_id", userID), zap.String("reward_code", e.RewardCode), zap.Error(uerr))
			}
			v.logger.Error("unlock grant failed",
				zap.Int64("user_id", userID), zap.String("code", e.Code), zap.Error(err))
			return unlocked, errs.Storage("vault.grant", err)
		}
		v.logger.Info("combination unlocked",
			zap.Int64("user_id", userID), zap.String("code", e.Code), zap.String("reward_code", e.RewardCode))
		unlocked = append(unlocked, e.RewardCode)
	}
	return unlocked, nil
}

// SubmitHint records hint and evaluates unlocks in one step.
func (v *Vault) SubmitHint(ctx context.Context, userID int64, hint string) ([]string, error) {
	if err := v.RecordHint(ctx, userID, hint); err != nil {
		return nil, err
	}
	return v.EvaluateUnlocks(ctx, userID)
}

// satisfied reports whether required is a non-empty subset of have.
func satisfied(required []string, have map[string]bool) bool {
	if len(required) == 0 {
		return false
	}
	for _, h := range required {
		if !have[h] {
			return false
		}
	}
	return true
}

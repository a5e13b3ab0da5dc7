// Package mission evaluates achievement rules against a user's activity
// counters and rewards each mission at most once.
package mission

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/keylock"
	"go.uber.org/zap"
)

// PointsGranter pays out mission rewards. claim.Ledger implements it.
type PointsGranter interface {
	GrantPoints(ctx context.Context, userID, points int64, reason string) error
}

// Result is the outcome of CheckCompletion.
type Result struct {
	Completed     bool `json:"completed"`
	JustCompleted bool `json:"just_completed"`
}

// Evaluator checks missions for users.
type Evaluator struct {
	catalog     Catalog
	progress    ProgressSource
	completions CompletionStore
	granter     PointsGranter
	locker      keylock.Locker
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

func WithLocker(lk keylock.Locker) Option { return func(e *Evaluator) { e.locker = lk } }

func NewEvaluator(catalog Catalog, progress ProgressSource, completions CompletionStore, granter PointsGranter, logger *zap.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		catalog:     catalog,
		progress:    progress,
		completions: completions,
		granter:     granter,
		locker:      keylock.NewLocal(),
		now:         time.Now,
		logger:      logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CheckCompletion evaluates m for userID against fresh progress.
func (e *Evaluator) CheckCompletion(ctx context.Context, userID int64, m Mission) (Result, error) {
	return e.check(ctx, userID, m, nil)
}

// CheckCompletionByID looks m up in the catalog first; unknown ids yield errs.ErrNotFound.
func (e *Evaluator) CheckCompletionByID(ctx context.Context, userID int64, missionID string) (Result, error) {
	m, err := e.catalog.Mission(ctx, missionID)
	if err != nil {
		return Result{}, err
	}
	return e.check(ctx, userID, m, nil)
}

// check uses snapshot when non-nil instead of fetching progress.
func (e *Evaluator) check(ctx context.Context, userID int64, m Mission, snapshot Progress) (Result, error) {
	if m.Rule == nil {
		return Result{}, errs.Invalid("mission %q has no completion rule", m.ID)
	}
	unlock, err := e.locker.Lock(ctx, fmt.Sprintf("mission:%d:%s", userID, m.ID))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	done, err := e.completions.IsCompleted(ctx, userID, m.ID)
	if err != nil {
		return Result{}, err
	}
	if done {
		return Result{Completed: true}, nil
	}

	p := snapshot
	if p == nil {
		if p, err = e.progress.Progress(ctx, userID); err != nil {
			e.logger.Error("fetch progress failed", zap.Int64("user_id", userID), zap.Error(err))
			return Result{}, errs.Storage("mission.progress", err)
		}
	}
	if !m.Rule.Satisfied(p) {
		return Result{}, nil
	}

	fresh, err := e.completions.MarkCompleted(ctx, userID, m.ID, e.now())
	if err != nil {
		e.logger.Error("mark mission completed failed",
			zap.Int64("user_id", userID), zap.String("mission_id", m.ID), zap.Error(err))
		return Result{}, err
	}
	if !fresh {
		return Result{Completed: true}, nil
	}

	res := Result{Completed: true, JustCompleted: true}
	if m.RewardPoints > 0 {
		// Completion stays recorded even if the payout fails.
		if err := e.granter.GrantPoints(ctx, userID, m.RewardPoints, "mission:"+m.ID); err != nil {
			e.logger.Error("mission reward failed",
				zap.Int64("user_id", userID), zap.String("mission_id", m.ID), zap.Error(err))
			return res, errs.Storage("mission.grant", err)
		}
	}
	e.logger.Info("mission completed",
		zap.Int64("user_id", userID), zap.String("mission_id", m.ID), zap.Int64("points", m.RewardPoints))
	return res, nil
}

// ListActiveMissions yields the catalog's missions that userID has not
// completed, in catalog order. Each range over the sequence re-reads
// completion state. A storage failure is yielded once as the final element.
func (e *Evaluator) ListActiveMissions(ctx context.Context, userID int64) iter.Seq2[Mission, error] {
	return func(yield func(Mission, error) bool) {
		missions, err := e.catalog.Missions(ctx)
		if err != nil {
			yield(Mission{}, err)
			return
		}
		done, err := e.completions.Completed(ctx, userID)
		if err != nil {
			yield(Mission{}, err)
			return
		}
		for _, m := range missions {
			if done[m.ID] {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// CheckAll checks every active mission against one progress snapshot and
// returns the missions completed by this call.
func (e *Evaluator) CheckAll(ctx context.Context, userID int64) ([]Mission, error) {
	p, err := e.progress.Progress(ctx, userID)
	if err != nil {
		return nil, errs.Storage("mission.progress", err)
	}
	var completed []Mission
	for m, err := range e.ListActiveMissions(ctx, userID) {
		if err != nil {
			return completed, err
		}
		res, err := e.check(ctx, userID, m, p)
		if res.JustCompleted {
			completed = append(completed, m)
		}
		if err != nil {
			return completed, err
		}
	}
	return completed, nil
}

// Package engine wires the progression components together and exposes the
// calls the chat layer makes: gifts, hints, missions, flows and deliveries.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/engagebot/cache"
	"github.com/kasuganosora/engagebot/config"
	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/claim"
	"github.com/kasuganosora/engagebot/game/delivery"
	"github.com/kasuganosora/engagebot/game/flow"
	"github.com/kasuganosora/engagebot/game/mission"
	"github.com/kasuganosora/engagebot/game/quiz"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/game/vault"
	"github.com/kasuganosora/engagebot/hook"
	"github.com/kasuganosora/engagebot/keylock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Activity counters the engine maintains for mission rules.
const (
	CounterGiftsClaimed     = "gifts_claimed"
	CounterHintsSubmitted   = "hints_submitted"
	CounterQuizzesCompleted = "quizzes_completed"
	CounterQuizzesCreated   = "quizzes_created"
)

// Deps are the collaborators New needs. Cache is only required for the
// "cache" delivery backend and for distributed locks.
type Deps struct {
	DB      *gorm.DB
	Cache   cache.Cache
	Granter reward.Granter
	Catalog mission.Catalog
	Hooks   *hook.HookCenter
	Logger  *zap.Logger
	Now     func() time.Time
}

// Engine is the facade over every component.
type Engine struct {
	cfg config.EngineConfig

	Ledger     *claim.Ledger
	Deliveries *delivery.Registry
	Vault      *vault.Vault
	Counters   *mission.CounterStore
	Missions   *mission.Evaluator
	Flows      *flow.Machine
	Quizzes    *quiz.Service
	Hooks      *hook.HookCenter

	logger *zap.Logger
}

func amounts(claims map[string]config.ClaimConfig) claim.PerKey {
	p := claim.PerKey{Providers: make(map[string]claim.AmountProvider, len(claims))}
	for key, c := range claims {
		if c.Max > c.Min {
			p.Providers[key] = claim.Range{Min: c.Min, Max: c.Max}
		} else {
			p.Providers[key] = claim.Fixed(c.Min)
		}
	}
	return p
}

func newDeliveryStore(cfg config.DeliveryConfig, c cache.Cache) (delivery.Store, error) {
	switch cfg.Backend {
	case "", "lru":
		return delivery.NewLRUStore(cfg.Capacity)
	case "cache":
		if c == nil {
			return nil, fmt.Errorf("engine: delivery backend %q needs a cache", cfg.Backend)
		}
		return delivery.NewCacheStore(c, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("engine: unknown delivery backend %q", cfg.Backend)
	}
}

// New builds an Engine from cfg and deps.
func New(cfg config.EngineConfig, deps Deps) (*Engine, error) {
	if deps.DB == nil || deps.Granter == nil || deps.Catalog == nil {
		return nil, fmt.Errorf("engine: db, granter and catalog are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	hooks := deps.Hooks
	if hooks == nil {
		hooks = hook.NewHookCenter()
	}

	var locker keylock.Locker = keylock.NewLocal()
	if cfg.Lock.Distributed {
		if deps.Cache == nil {
			return nil, fmt.Errorf("engine: distributed locks need a cache")
		}
		locker = keylock.NewDistributed(deps.Cache, cfg.Lock.TTL, cfg.Lock.Retry, logger.Named("lock"))
	}

	store, err := newDeliveryStore(cfg.Delivery, deps.Cache)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		Deliveries: delivery.NewRegistry(store),
		Counters:   mission.NewCounterStore(deps.DB),
		Flows:      flow.NewMachine(logger.Named("flow"), flow.WithClock(now)),
		Hooks:      hooks,
		logger:     logger,
	}
	e.Ledger = claim.NewLedger(claim.NewGormStore(deps.DB), amounts(cfg.Claims), deps.Granter, logger.Named("claim"),
		claim.WithClock(now), claim.WithLocker(locker))
	e.Vault = vault.New(vault.NewGormStore(deps.DB), deps.Granter, logger.Named("vault"),
		vault.WithClock(now), vault.WithLocker(locker))
	e.Missions = mission.NewEvaluator(deps.Catalog, e.Counters, mission.NewGormCompletionStore(deps.DB), e.Ledger, logger.Named("mission"),
		mission.WithClock(now), mission.WithLocker(locker))
	e.Quizzes, err = quiz.NewService(deps.DB, e.Flows, deps.Granter, logger.Named("quiz"),
		quiz.OnCreate(e.quizCreated), quiz.OnAttempt(e.quizAttempted))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// emit runs the hooks for ev. Hook failures never undo the engine operation.
func (e *Engine) emit(ctx context.Context, name string, userID int64, data map[string]any) {
	if _, err := e.Hooks.Trigger(ctx, hook.Event{Name: name, UserID: userID, Data: data}); err != nil {
		e.logger.Debug("hook chain interrupted", zap.String("event", name), zap.Int64("user_id", userID), zap.Error(err))
	}
}

// track bumps an activity counter. A failure is logged only: the action it
// counts has already happened.
func (e *Engine) track(ctx context.Context, userID int64, counter string) {
	if _, err := e.Counters.Track(ctx, userID, counter, 1); err != nil {
		e.logger.Warn("track counter failed", zap.Int64("user_id", userID), zap.String("counter", counter), zap.Error(err))
	}
}

func (e *Engine) period(rewardKey string) (time.Duration, error) {
	c, ok := e.cfg.Claims[rewardKey]
	if !ok || c.Period <= 0 {
		return 0, fmt.Errorf("reward %q: %w", rewardKey, errs.ErrNotFound)
	}
	return c.Period, nil
}

// Claim attempts the periodic reward rewardKey for userID.
func (e *Engine) Claim(ctx context.Context, userID int64, rewardKey string) (claim.Claim, error) {
	period, err := e.period(rewardKey)
	if err != nil {
		return claim.Claim{}, err
	}
	c, err := e.Ledger.TryClaim(ctx, userID, rewardKey, period)
	if err != nil || !c.Granted {
		return c, err
	}
	e.track(ctx, userID, CounterGiftsClaimed)
	e.emit(ctx, hook.RewardGranted, userID, map[string]any{
		"reward_key": rewardKey,
		"points":     c.Amount,
	})
	return c, nil
}

// ClaimGift claims the daily gift.
func (e *Engine) ClaimGift(ctx context.Context, userID int64) (claim.Claim, error) {
	return e.Claim(ctx, userID, config.DailyGift)
}

// GiftStatus reports whether the daily gift can be claimed right now.
func (e *Engine) GiftStatus(ctx context.Context, userID int64) (claim.Status, error) {
	period, err := e.period(config.DailyGift)
	if err != nil {
		return claim.Status{}, err
	}
	return e.Ledger.Status(ctx, userID, config.DailyGift, period)
}

// SubmitHint records hint for userID and returns the reward codes it unlocked.
func (e *Engine) SubmitHint(ctx context.Context, userID int64, hint string) ([]string, error) {
	unlocked, err := e.Vault.SubmitHint(ctx, userID, hint)
	if errs.IsValidation(err) {
		return nil, err
	}
	if err == nil || len(unlocked) > 0 {
		e.track(ctx, userID, CounterHintsSubmitted)
	}
	for _, code := range unlocked {
		e.emit(ctx, hook.CombinationUnlocked, userID, map[string]any{"reward_code": code})
	}
	return unlocked, err
}

// EvaluateUnlocks re-checks userID's collected hints against every entry,
// e.g. after new combinations were added. It is idempotent.
func (e *Engine) EvaluateUnlocks(ctx context.Context, userID int64) ([]string, error) {
	unlocked, err := e.Vault.EvaluateUnlocks(ctx, userID)
	for _, code := range unlocked {
		e.emit(ctx, hook.CombinationUnlocked, userID, map[string]any{"reward_code": code})
	}
	return unlocked, err
}

// AddCombination adds a vault entry.
func (e *Engine) AddCombination(ctx context.Context, code string, requiredHints []string, rewardCode string) (vault.Entry, error) {
	return e.Vault.AddEntry(ctx, code, requiredHints, rewardCode)
}

// Track adds delta to one of userID's activity counters.
func (e *Engine) Track(ctx context.Context, userID int64, counter string, delta int64) (int64, error) {
	counter = strings.TrimSpace(counter)
	if counter == "" {
		return 0, errs.Invalid("counter name is required")
	}
	return e.Counters.Track(ctx, userID, counter, delta)
}

// CheckMissions evaluates every mission for userID and returns those it
// just completed.
func (e *Engine) CheckMissions(ctx context.Context, userID int64) ([]mission.Mission, error) {
	done, err := e.Missions.CheckAll(ctx, userID)
	for _, m := range done {
		e.emit(ctx, hook.MissionCompleted, userID, map[string]any{
			"mission_id": m.ID,
			"points":     m.RewardPoints,
		})
	}
	return done, err
}

// ListMissions returns the missions userID has not completed yet.
func (e *Engine) ListMissions(ctx context.Context, userID int64) ([]mission.Mission, error) {
	var out []mission.Mission
	for m, err := range e.Missions.ListActiveMissions(ctx, userID) {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// StartFlow opens a flow session. An empty kind starts quiz creation; a
// "quiz:<slug>" kind answers a stored quiz, once per user and never by its
// author.
func (e *Engine) StartFlow(ctx context.Context, userID int64, kind string) (flow.Step, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = quiz.CreationKind
	}
	if err := e.Quizzes.Admit(ctx, userID, kind); err != nil {
		return flow.Step{}, err
	}
	return e.Flows.Start(ctx, userID, kind)
}

// StartQuizFlow starts the quiz creation flow.
func (e *Engine) StartQuizFlow(ctx context.Context, userID int64) (flow.Step, error) {
	return e.StartFlow(ctx, userID, quiz.CreationKind)
}

// SubmitFlowInput advances userID's session.
func (e *Engine) SubmitFlowInput(ctx context.Context, userID int64, input string) (flow.Step, error) {
	step, err := e.Flows.Advance(ctx, userID, input)
	if step.Done {
		e.emit(ctx, hook.FlowCompleted, userID, map[string]any{
			"terminal": step.Terminal,
			"answers":  len(step.Answers),
			"failed":   err != nil,
		})
	}
	return step, err
}

// CurrentFlow returns userID's open session.
func (e *Engine) CurrentFlow(ctx context.Context, userID int64) (flow.Session, error) {
	return e.Flows.Current(ctx, userID)
}

// CancelFlow abandons userID's session.
func (e *Engine) CancelFlow(ctx context.Context, userID int64) error {
	return e.Flows.Cancel(ctx, userID)
}

// ExpireIdleFlows drops sessions idle for longer than the configured timeout.
func (e *Engine) ExpireIdleFlows(ctx context.Context) int {
	idle := e.cfg.Session.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return e.Flows.ExpireIdle(ctx, idle)
}

// RecordOutboundMessage remembers a message the bot sent.
func (e *Engine) RecordOutboundMessage(ctx context.Context, channelID, messageID string) error {
	return e.Deliveries.Record(ctx, channelID, messageID)
}

// IsOutboundMessage reports whether the bot sent the message.
func (e *Engine) IsOutboundMessage(ctx context.Context, channelID, messageID string) (bool, error) {
	return e.Deliveries.IsKnown(ctx, channelID, messageID)
}

func (e *Engine) quizCreated(ctx context.Context, q quiz.Quiz) {
	e.track(ctx, q.AuthorID, CounterQuizzesCreated)
}

func (e *Engine) quizAttempted(ctx context.Context, a quiz.Attempt) {
	e.track(ctx, a.UserID, CounterQuizzesCompleted)
	if a.Score > 0 {
		e.emit(ctx, hook.RewardGranted, a.UserID, map[string]any{
			"reward_key": "quiz:" + a.Slug,
			"points":     a.Score,
		})
	}
	for _, code := range a.Unlocked {
		e.emit(ctx, hook.RewardGranted, a.UserID, map[string]any{
			"reward_key":  "quiz:" + a.Slug,
			"reward_code": code,
		})
	}
}

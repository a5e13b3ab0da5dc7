package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/engagebot/config"
	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/flow"
	"github.com/kasuganosora/engagebot/game/mission"
	"github.com/kasuganosora/engagebot/game/quiz"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/hook"
	"github.com/kasuganosora/engagebot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []hook.Event
}

func (r *recorder) fn(_ context.Context, ev hook.Event) (hook.Event, error) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return ev, nil
}

func (r *recorder) named(name string) []hook.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []hook.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	eng     *Engine
	granter *reward.MemoryGranter
	clock   *testutil.Clock
	events  *recorder
}

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		Claims: map[string]config.ClaimConfig{
			config.DailyGift: {Period: 24 * time.Hour, Min: 100, Max: 100},
			"lucky_draw":     {Period: time.Hour, Min: 1, Max: 6},
		},
		Delivery: config.DeliveryConfig{Backend: "lru", Capacity: 10},
		Session:  config.SessionConfig{IdleTimeout: time.Minute},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := mission.NewStaticCatalog(
		mission.Mission{ID: "first_gift", Name: "First Gift", RewardPoints: 50,
			Rule: mustCompile(t, mission.RuleSpec{Kind: mission.KindCounterAtLeast, Counter: CounterGiftsClaimed, Threshold: 1})},
		mission.Mission{ID: "quiz_fan", Name: "Quiz Fan", RewardPoints: 70,
			Rule: mustCompile(t, mission.RuleSpec{Kind: mission.KindCounterAtLeast, Counter: CounterQuizzesCompleted, Threshold: 1})},
	)
	require.NoError(t, err)

	h := &harness{
		granter: reward.NewMemoryGranter(),
		clock:   testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		events:  &recorder{},
	}
	hooks := hook.NewHookCenter()
	for _, name := range []string{hook.RewardGranted, hook.MissionCompleted, hook.CombinationUnlocked, hook.FlowCompleted} {
		hooks.Register(name, 0, "recorder", h.events.fn)
	}
	h.eng, err = New(engineConfig(), Deps{
		DB:      testutil.SetupTestDB(t),
		Granter: h.granter,
		Catalog: catalog,
		Hooks:   hooks,
		Logger:  testutil.NopLogger(),
		Now:     h.clock.Now,
	})
	require.NoError(t, err)
	return h
}

func mustCompile(t *testing.T, spec mission.RuleSpec) mission.Rule {
	t.Helper()
	r, err := mission.Compile(spec)
	require.NoError(t, err)
	return r
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(engineConfig(), Deps{})
	assert.Error(t, err)
}

func TestNew_DeliveryBackends(t *testing.T) {
	catalog, _ := mission.NewStaticCatalog()
	deps := Deps{DB: testutil.SetupTestDB(t), Granter: reward.NewMemoryGranter(), Catalog: catalog}

	cfg := engineConfig()
	cfg.Delivery.Backend = "cache"
	_, err := New(cfg, deps)
	assert.Error(t, err, "cache backend without a cache")

	c, _ := testutil.SetupTestCache(t)
	deps.Cache = c
	_, err = New(cfg, deps)
	assert.NoError(t, err)

	cfg.Delivery.Backend = "bogus"
	_, err = New(cfg, deps)
	assert.Error(t, err)

	cfg.Delivery.Backend = "lru"
	cfg.Lock.Distributed = true
	cfg.Lock.TTL = time.Second
	cfg.Lock.Retry = time.Millisecond
	_, err = New(cfg, deps)
	assert.NoError(t, err)
}

func TestClaimGift_OncePerDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.eng.ClaimGift(ctx, 1)
	require.NoError(t, err)
	assert.True(t, c.Granted)
	assert.Equal(t, int64(100), c.Amount)

	c, err = h.eng.ClaimGift(ctx, 1)
	require.NoError(t, err)
	assert.False(t, c.Granted)
	assert.Zero(t, c.Amount)

	st, err := h.eng.GiftStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, st.Available)

	h.clock.Advance(24 * time.Hour)
	c, err = h.eng.ClaimGift(ctx, 1)
	require.NoError(t, err)
	assert.True(t, c.Granted)

	assert.Equal(t, int64(200), h.granter.Total(1))
	assert.Len(t, h.events.named(hook.RewardGranted), 2)

	p, err := h.eng.Counters.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p[CounterGiftsClaimed])
}

func TestClaim_RangeAndUnknownKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.eng.Claim(ctx, 1, "lucky_draw")
	require.NoError(t, err)
	assert.True(t, c.Granted)
	assert.GreaterOrEqual(t, c.Amount, int64(1))
	assert.LessOrEqual(t, c.Amount, int64(6))

	_, err = h.eng.Claim(ctx, 1, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestClaimGift_GrantFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.granter.Fail(assert.AnError)
	_, err := h.eng.ClaimGift(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.Empty(t, h.events.named(hook.RewardGranted))

	h.granter.Fail(nil)
	c, err := h.eng.ClaimGift(ctx, 1)
	require.NoError(t, err)
	assert.True(t, c.Granted, "a failed grant leaves the gift claimable")
}

func TestSubmitHint_Unlocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.eng.AddCombination(ctx, "C1", []string{"h1", "h2"}, "R1")
	require.NoError(t, err)

	got, err := h.eng.SubmitHint(ctx, 5, "h1")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = h.eng.SubmitHint(ctx, 5, "h2")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, got)

	unlocked := h.events.named(hook.CombinationUnlocked)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "R1", unlocked[0].Data["reward_code"])

	_, err = h.eng.SubmitHint(ctx, 5, "  ")
	assert.ErrorIs(t, err, errs.ErrInvalidEntry)

	p, err := h.eng.Counters.Progress(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p[CounterHintsSubmitted])
}

func TestEvaluateUnlocks_AfterNewCombination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, hint := range []string{"h1", "h2"} {
		_, err := h.eng.SubmitHint(ctx, 6, hint)
		require.NoError(t, err)
	}

	_, err := h.eng.AddCombination(ctx, "C2", []string{"h2", "h1"}, "R2")
	require.NoError(t, err)

	got, err := h.eng.EvaluateUnlocks(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, got)
	got, err = h.eng.EvaluateUnlocks(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Len(t, h.events.named(hook.CombinationUnlocked), 1)
	assert.Len(t, h.granter.Grants(), 1)
}

func TestCheckMissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done, err := h.eng.CheckMissions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, done)

	_, err = h.eng.ClaimGift(ctx, 1)
	require.NoError(t, err)

	done, err = h.eng.CheckMissions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "first_gift", done[0].ID)
	assert.Equal(t, int64(150), h.granter.Total(1))
	assert.Len(t, h.events.named(hook.MissionCompleted), 1)

	done, err = h.eng.CheckMissions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, done)

	active, err := h.eng.ListMissions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "quiz_fan", active[0].ID)
}

func TestTrack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n, err := h.eng.Track(ctx, 1, "messages_sent", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = h.eng.Track(ctx, 1, " ", 1)
	assert.ErrorIs(t, err, errs.ErrInvalidEntry)
}

func feed(t *testing.T, e *Engine, userID int64, inputs ...string) flow.Step {
	t.Helper()
	var step flow.Step
	for _, in := range inputs {
		var err error
		step, err = e.SubmitFlowInput(context.Background(), userID, in)
		require.NoError(t, err)
		require.True(t, step.Accepted, "%q rejected at %s: %s", in, step.State, step.Reason)
	}
	return step
}

func TestQuizFlow_CreateAndAnswer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	step, err := h.eng.StartQuizFlow(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "title", step.State)

	_, err = h.eng.StartQuizFlow(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrSessionAlreadyActive)

	step = feed(t, h.eng, 1, "Colors", "1", "Sky color?", "single", "blue, green", "blue", "40", "none", "yes")
	require.Equal(t, flow.Confirmed, step.Terminal)

	quizzes, err := h.eng.Quizzes.List(ctx)
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	kind := quiz.AnsweringKind(quizzes[0].Slug)

	_, err = h.eng.StartFlow(ctx, 2, kind)
	require.NoError(t, err)
	feed(t, h.eng, 2, "1", "yes")
	assert.Equal(t, int64(40), h.granter.Total(2))

	done, err := h.eng.CheckMissions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "quiz_fan", done[0].ID)

	assert.Len(t, h.events.named(hook.FlowCompleted), 2)
	assert.Len(t, h.events.named(hook.RewardGranted), 1)

	_, err = h.eng.StartFlow(ctx, 3, quiz.AnsweringKind("missing"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestQuizFlow_OneAttemptNoAuthor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.StartQuizFlow(ctx, 1)
	require.NoError(t, err)
	feed(t, h.eng, 1, "Colors", "1", "Sky color?", "single", "blue, green", "blue", "40", "sky.png", "yes")
	quizzes, err := h.eng.Quizzes.List(ctx)
	require.NoError(t, err)
	kind := quiz.AnsweringKind(quizzes[0].Slug)

	_, err = h.eng.StartFlow(ctx, 1, kind)
	assert.ErrorIs(t, err, errs.ErrInvalidEntry, "author answering own quiz")

	_, err = h.eng.StartFlow(ctx, 2, kind)
	require.NoError(t, err)
	feed(t, h.eng, 2, "1", "yes")

	_, err = h.eng.StartFlow(ctx, 2, kind)
	assert.ErrorIs(t, err, errs.ErrAlreadyAnswered)
	assert.Equal(t, int64(40), h.granter.Total(2))

	var codes []string
	for _, ev := range h.events.named(hook.RewardGranted) {
		if code, ok := ev.Data["reward_code"].(string); ok {
			codes = append(codes, code)
		}
	}
	assert.Equal(t, []string{"sky.png"}, codes)
}

func TestFlow_CancelAndExpire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.StartFlow(ctx, 1, "")
	require.NoError(t, err)
	s, err := h.eng.CurrentFlow(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, quiz.CreationKind, s.Kind)

	require.NoError(t, h.eng.CancelFlow(ctx, 1))
	assert.ErrorIs(t, h.eng.CancelFlow(ctx, 1), errs.ErrSessionNotFound)

	_, err = h.eng.StartQuizFlow(ctx, 1)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.eng.ExpireIdleFlows(ctx))
	_, err = h.eng.SubmitFlowInput(ctx, 1, "title")
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestOutboundMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	known, err := h.eng.IsOutboundMessage(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, h.eng.RecordOutboundMessage(ctx, "c1", "m1"))
	known, err = h.eng.IsOutboundMessage(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.True(t, known)

	known, err = h.eng.IsOutboundMessage(ctx, "c2", "m1")
	require.NoError(t, err)
	assert.False(t, known)

	assert.ErrorIs(t, h.eng.RecordOutboundMessage(ctx, "", "m1"), errs.ErrInvalidEntry)
}

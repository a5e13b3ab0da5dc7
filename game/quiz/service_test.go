package quiz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/flow"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/model"
	"github.com/kasuganosora/engagebot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	machine  *flow.Machine
	granter  *reward.MemoryGranter
	svc      *Service
	created  []Quiz
	attempts []Attempt
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:      testutil.SetupTestDB(t),
		machine: flow.NewMachine(testutil.NopLogger()),
		granter: reward.NewMemoryGranter(),
	}
	var err error
	f.svc, err = NewService(f.db, f.machine, f.granter, testutil.NopLogger(),
		OnCreate(func(_ context.Context, q Quiz) { f.created = append(f.created, q) }),
		OnAttempt(func(_ context.Context, a Attempt) { f.attempts = append(f.attempts, a) }))
	require.NoError(t, err)
	return f
}

func drive(t *testing.T, m *flow.Machine, userID int64, inputs ...string) flow.Step {
	t.Helper()
	var step flow.Step
	for _, in := range inputs {
		var err error
		step, err = m.Advance(context.Background(), userID, in)
		require.NoError(t, err)
		require.True(t, step.Accepted, "%q rejected at %s: %s", in, step.State, step.Reason)
	}
	return step
}

func createSpaceQuiz(t *testing.T, f *fixture, author int64) Quiz {
	t.Helper()
	_, err := f.machine.Start(context.Background(), author, CreationKind)
	require.NoError(t, err)
	step := drive(t, f.machine, author,
		"Space Trivia", "3",
		"Closest star?", "single", "Sun, Proxima, Sirius", "Sun", "10", "none",
		"Gas giants?", "multiple", "Jupiter, Mars, Saturn", "Jupiter, Saturn", "20", "ringed.png",
		"Name our galaxy", "open", "Milky Way", "5", "none",
		"yes")
	require.Equal(t, flow.Confirmed, step.Terminal)
	require.NotEmpty(t, f.created)
	return f.created[len(f.created)-1]
}

func TestCreationFlow_Valid(t *testing.T) {
	def := CreationFlow()
	assert.NoError(t, def.Validate())
}

func TestCreationFlow_PersistsQuiz(t *testing.T) {
	f := newFixture(t)
	q := createSpaceQuiz(t, f, 42)

	assert.Equal(t, "space-trivia", q.Slug)
	assert.Equal(t, int64(42), q.AuthorID)
	require.Len(t, q.Questions, 3)
	assert.Equal(t, []string{"Sun"}, q.Questions[0].CorrectAnswer)
	assert.Equal(t, []string{"Jupiter", "Saturn"}, q.Questions[1].CorrectAnswer)
	assert.Empty(t, q.Questions[2].Options, "open question has no options")
	assert.Equal(t, "ringed.png", q.Questions[1].UnlockContent)
	assert.Empty(t, q.Questions[0].UnlockContent)
	assert.Equal(t, int64(35), q.MaxScore())

	stored, err := f.svc.Get(context.Background(), "space-trivia")
	require.NoError(t, err)
	assert.Equal(t, q.Questions, stored.Questions)

	second := createSpaceQuiz(t, f, 42)
	assert.Equal(t, "space-trivia-2", second.Slug)
}

func TestCreationFlow_CancelledNotPersisted(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.Start(context.Background(), 1, CreationKind)
	require.NoError(t, err)
	step := drive(t, f.machine, 1, "T", "1", "Q", "open", "A", "1", "none", "no")
	assert.Equal(t, flow.Cancelled, step.Terminal)

	var n int64
	f.db.Model(&model.Quiz{}).Count(&n)
	assert.Zero(t, n)
}

func TestAnsweringFlow_ScoresAndGrants(t *testing.T) {
	f := newFixture(t)
	q := createSpaceQuiz(t, f, 1)
	ctx := context.Background()

	step, err := f.machine.Start(ctx, 7, AnsweringKind(q.Slug))
	require.NoError(t, err)
	assert.Equal(t, "q1", step.State)
	assert.Equal(t, []string{"Sun", "Proxima", "Sirius"}, step.Choices)

	drive(t, f.machine, 7, "sun", "saturn, jupiter", "andromeda", "yes")

	require.Len(t, f.attempts, 1)
	att := f.attempts[0]
	assert.Equal(t, int64(30), att.Score)
	assert.Equal(t, int64(35), att.MaxScore)
	assert.Equal(t, []bool{true, true, false}, att.Correct)
	assert.Equal(t, []string{"ringed.png"}, att.Unlocked)
	assert.Equal(t, int64(30), f.granter.Total(7))
	assert.Contains(t, f.granter.Grants(),
		reward.Grant{UserID: 7, Code: "ringed.png", Reason: "quiz:space-trivia"})

	var row model.QuizAttempt
	require.NoError(t, f.db.Where("user_id = ?", 7).First(&row).Error)
	assert.Equal(t, q.ID, row.QuizID)
	assert.Equal(t, int64(30), row.Score)
}

func TestAnsweringFlow_OneAttemptPerUser(t *testing.T) {
	f := newFixture(t)
	q := createSpaceQuiz(t, f, 1)
	ctx := context.Background()

	_, err := f.machine.Start(ctx, 7, AnsweringKind(q.Slug))
	require.NoError(t, err)
	drive(t, f.machine, 7, "sun", "saturn, jupiter", "andromeda", "yes")

	assert.ErrorIs(t, f.svc.Admit(ctx, 7, AnsweringKind(q.Slug)), errs.ErrAlreadyAnswered)

	// A session opened before the first attempt finished is still not paid.
	_, err = f.machine.Start(ctx, 7, AnsweringKind(q.Slug))
	require.NoError(t, err)
	drive(t, f.machine, 7, "sun", "saturn, jupiter", "andromeda")
	step, err := f.machine.Advance(ctx, 7, "yes")
	assert.ErrorIs(t, err, errs.ErrAlreadyAnswered)
	assert.True(t, step.Done)

	assert.Equal(t, int64(30), f.granter.Total(7))
	assert.Len(t, f.attempts, 1)
	var n int64
	require.NoError(t, f.db.Model(&model.QuizAttempt{}).Where("user_id = ?", 7).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestAnsweringFlow_AuthorRejected(t *testing.T) {
	f := newFixture(t)
	q := createSpaceQuiz(t, f, 1)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Admit(ctx, 1, AnsweringKind(q.Slug)), errs.ErrInvalidEntry)
	assert.NoError(t, f.svc.Admit(ctx, 2, AnsweringKind(q.Slug)))
	assert.NoError(t, f.svc.Admit(ctx, 1, CreationKind))

	_, err := f.svc.Score(ctx, q, 1, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidEntry)
	assert.Zero(t, f.granter.Total(1))
}

func TestAnsweringFlow_GrantFailureLeavesNoAttempt(t *testing.T) {
	f := newFixture(t)
	q := createSpaceQuiz(t, f, 1)
	ctx := context.Background()

	_, err := f.machine.Start(ctx, 7, AnsweringKind(q.Slug))
	require.NoError(t, err)
	drive(t, f.machine, 7, "sun", "saturn, jupiter", "andromeda")

	f.granter.Fail(errors.New("wallet down"))
	step, err := f.machine.Advance(ctx, 7, "yes")
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.Equal(t, flow.Confirmed, step.Terminal)

	var n int64
	require.NoError(t, f.db.Model(&model.QuizAttempt{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Zero(t, f.granter.Total(7))
	assert.Empty(t, f.attempts)

	// The user can answer again once the wallet is back.
	f.granter.Fail(nil)
	require.NoError(t, f.svc.Admit(ctx, 7, AnsweringKind(q.Slug)))
	_, err = f.machine.Start(ctx, 7, AnsweringKind(q.Slug))
	require.NoError(t, err)
	drive(t, f.machine, 7, "sun", "saturn, jupiter", "andromeda", "yes")
	assert.Equal(t, int64(30), f.granter.Total(7))
}

func TestSave_RetriesTakenSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Another writer inserts the same slug right after Save looked it up.
	var once sync.Once
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:take_slug", func(tx *gorm.DB) {
		if tx.Statement.Table != "quizzes" {
			return
		}
		once.Do(func() {
			err := tx.Session(&gorm.Session{NewDB: true}).Create(&model.Quiz{Slug: "colors", Title: "Colors", AuthorID: 9}).Error
			require.NoError(t, err)
		})
	}))

	q, err := f.svc.Save(ctx, Quiz{Title: "Colors", AuthorID: 1, Questions: []Question{{Text: "Sky?", Type: "open", CorrectAnswer: []string{"blue"}, Points: 1}}})
	require.NoError(t, err)
	assert.Equal(t, "colors-2", q.Slug)
	assert.True(t, f.machine.Registered(AnsweringKind("colors-2")))

	var n int64
	require.NoError(t, f.db.Model(&model.Quiz{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestResolve_RegistersStoredQuizLazily(t *testing.T) {
	f := newFixture(t)
	q := createSpaceQuiz(t, f, 1)
	ctx := context.Background()

	// A fresh machine, as after a restart.
	m2 := flow.NewMachine(testutil.NopLogger())
	svc2, err := NewService(f.db, m2, f.granter, testutil.NopLogger())
	require.NoError(t, err)
	assert.False(t, m2.Registered(AnsweringKind(q.Slug)))

	require.NoError(t, svc2.Resolve(ctx, AnsweringKind(q.Slug)))
	assert.True(t, m2.Registered(AnsweringKind(q.Slug)))
	require.NoError(t, svc2.Resolve(ctx, CreationKind))

	assert.ErrorIs(t, svc2.Resolve(ctx, AnsweringKind("missing")), errs.ErrNotFound)
	assert.ErrorIs(t, svc2.Resolve(ctx, "random"), errs.ErrNotFound)
}

func TestBuild_Invalid(t *testing.T) {
	_, err := Build(1, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidEntry)
	_, err = Build(1, []flow.Answer{{State: "title", Value: "T"}, {State: "points", Value: "3"}})
	assert.ErrorIs(t, err, errs.ErrInvalidEntry)
	_, err = Build(1, []flow.Answer{{State: "title", Value: "T"}, {State: "question_text", Value: "Q"},
		{State: "unlock_content", Value: strings.Repeat("u", model.MaxKeyLen+1)}})
	assert.ErrorIs(t, err, errs.ErrInvalidEntry)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	createSpaceQuiz(t, f, 1)
	all, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Space Trivia", all[0].Title)
}

package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

// sampleFlow mirrors the quiz creation flow.
func sampleFlow() Definition {
	return Definition{
		Kind: "sample",
		States: []State{
			{Name: "title", Input: Text, Max: i64(40)},
			{Name: "total", Input: Number, Min: i64(1), Max: i64(5)},
			{Name: "text", Input: Text},
			{Name: "type", Input: Choice, Choices: []string{"single", "multiple", "open"}},
			{Name: "options", Input: List, SkipWhen: &Condition{State: "type", Equals: "open"}},
			{Name: "correct", Input: Choice, ChoicesFrom: "options",
				OpenWhen:     &Condition{State: "type", Equals: "open"},
				MultipleWhen: &Condition{State: "type", Equals: "multiple"}},
			{Name: "points", Input: Number, Min: i64(0)},
			{Name: "unlock", Input: Text, Repeat: &Loop{From: "text", Times: "total"}},
			{Name: "confirm", Input: Confirm},
		},
	}
}

type recorder struct {
	mu      sync.Mutex
	calls   int
	answers []Answer
	err     error
}

func (r *recorder) Complete(_ context.Context, _ int64, _ string, answers []Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.answers = answers
	return r.err
}

func newMachine(t *testing.T) (*Machine, *recorder, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	m := NewMachine(testutil.NopLogger(), WithClock(clock.Now))
	rec := &recorder{}
	require.NoError(t, m.Register(sampleFlow(), rec))
	return m, rec, clock
}

func feed(t *testing.T, m *Machine, userID int64, inputs ...string) Step {
	t.Helper()
	var step Step
	for _, in := range inputs {
		var err error
		step, err = m.Advance(context.Background(), userID, in)
		require.NoError(t, err)
		require.True(t, step.Accepted, "input %q rejected at %s: %s", in, step.State, step.Reason)
	}
	return step
}

func TestStart_TwiceFails(t *testing.T) {
	m, _, _ := newMachine(t)
	ctx := context.Background()

	step, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)
	assert.Equal(t, "title", step.State)

	_, err = m.Start(ctx, 1, "sample")
	assert.ErrorIs(t, err, errs.ErrSessionAlreadyActive)

	require.NoError(t, m.Cancel(ctx, 1))
	_, err = m.Start(ctx, 1, "sample")
	assert.NoError(t, err, "start is available again after cancel")
}

func TestStart_UnknownKind(t *testing.T) {
	m, _, _ := newMachine(t)
	_, err := m.Start(context.Background(), 1, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStart_ConcurrentOnlyOneWins(t *testing.T) {
	m, _, _ := newMachine(t)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(context.Background(), 9, "sample"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestAdvance_FullQuizWithOpenQuestionSkip(t *testing.T) {
	m, rec, _ := newMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)

	step := feed(t, m, 1, "Space trivia", "2",
		"Closest star?", "single")
	assert.Equal(t, "options", step.State)

	step = feed(t, m, 1, "Sun, Proxima, Sirius")
	assert.Equal(t, "correct", step.State)
	assert.Equal(t, []string{"Sun", "Proxima", "Sirius"}, step.Choices)

	step = feed(t, m, 1, "sun", "10", "none")
	assert.Equal(t, "text", step.State, "loop returns for the second question")

	step = feed(t, m, 1, "Name a planet", "open")
	assert.Equal(t, "correct", step.State, "options skipped for open questions")
	assert.Empty(t, step.Choices)

	step = feed(t, m, 1, "Mars", "5", "bonus.png")
	assert.Equal(t, "confirm", step.State)

	step = feed(t, m, 1, "yes")
	assert.True(t, step.Done)
	assert.Equal(t, Confirmed, step.Terminal)
	assert.Len(t, step.Answers, 14)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, step.Answers, rec.answers)
	assert.Equal(t, "Sun", rec.answers[5].Value, "choice normalized to canonical option")

	_, err = m.Current(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound, "terminal state removes the session")
	_, err = m.Start(ctx, 1, "sample")
	assert.NoError(t, err)
}

func TestAdvance_MultipleChoice(t *testing.T) {
	m, _, _ := newMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)

	feed(t, m, 1, "Colors", "1", "Pick warm colors", "multiple", "red, blue, orange")
	step := feed(t, m, 1, "red, 3")
	assert.Equal(t, "points", step.State)

	s, err := m.Current(ctx, 1)
	require.NoError(t, err)
	last := s.Answers[len(s.Answers)-1]
	assert.Equal(t, []string{"red", "orange"}, last.Items)
}

func TestAdvance_ConfirmNoCancels(t *testing.T) {
	m, rec, _ := newMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)

	step := feed(t, m, 1, "T", "1", "Q", "open", "A", "0", "none", "n")
	assert.True(t, step.Done)
	assert.Equal(t, Cancelled, step.Terminal)
	assert.Zero(t, rec.calls, "cancelled flows are not persisted")
	assert.Zero(t, m.Active())
}

// malformed holds an input the state's shape can never accept.
var malformed = map[InputKind]string{
	Text:    "   ",
	Number:  "twelve",
	Choice:  "definitely-not-an-option",
	List:    "lonely",
	Confirm: "maybe",
}

func TestAdvance_MalformedInputLeavesSessionUnchanged(t *testing.T) {
	m, _, _ := newMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)

	def := sampleFlow()
	// A valid path visiting every non-terminal state at least once.
	valid := []string{"Quiz", "1", "Q1", "single", "a, b", "a", "3", "none", "yes"}
	visited := map[string]bool{}

	for _, good := range valid {
		before, err := m.Current(ctx, 1)
		require.NoError(t, err)
		st := def.States[def.index(before.State)]
		visited[st.Name] = true

		bad := malformed[st.Input]
		if st.Input == Choice && holds(st.OpenWhen, before.Answers) {
			bad = malformed[Text]
		}
		step, err := m.Advance(ctx, 1, bad)
		require.NoError(t, err)
		assert.False(t, step.Accepted, "state %s accepted %q", st.Name, bad)
		assert.NotEmpty(t, step.Reason)
		assert.Equal(t, before.State, step.State)

		after, err := m.Current(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, before.State, after.State)
		assert.Equal(t, before.Answers, after.Answers)

		feed(t, m, 1, good)
	}
	for _, s := range def.States {
		assert.True(t, visited[s.Name], "state %s not exercised", s.Name)
	}
}

func TestAdvance_RejectionReasons(t *testing.T) {
	m, _, _ := newMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)

	step, err := m.Advance(ctx, 1, "this title is far too long to be accepted by the flow")
	require.NoError(t, err)
	assert.False(t, step.Accepted)

	feed(t, m, 1, "Quiz")
	step, err = m.Advance(ctx, 1, "9")
	require.NoError(t, err)
	assert.False(t, step.Accepted, "above max")

	feed(t, m, 1, "1", "Q")
	step, err = m.Advance(ctx, 1, "sngle")
	require.NoError(t, err)
	assert.False(t, step.Accepted)
	assert.Equal(t, "single", step.Suggestion)

	step = feed(t, m, 1, "2")
	assert.Equal(t, "options", step.State, "choices accept a 1-based index")

	step, err = m.Advance(ctx, 1, "a, A")
	require.NoError(t, err)
	assert.False(t, step.Accepted, "duplicate list items")
}

func TestAdvance_NoSession(t *testing.T) {
	m, _, _ := newMachine(t)
	_, err := m.Advance(context.Background(), 1, "hi")
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
	assert.ErrorIs(t, m.Cancel(context.Background(), 1), errs.ErrSessionNotFound)
}

func TestAdvance_CompleterFailure(t *testing.T) {
	m, rec, _ := newMachine(t)
	ctx := context.Background()
	rec.err = errors.New("db down")
	_, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)

	feed(t, m, 1, "T", "1", "Q", "open", "A", "0", "none")
	step, err := m.Advance(ctx, 1, "yes")
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.Equal(t, Confirmed, step.Terminal)
	assert.NotEmpty(t, step.Answers, "answers are returned for a later retry")
	assert.Zero(t, m.Active())
}

func TestExpireIdle(t *testing.T) {
	m, _, clock := newMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, 1, "sample")
	require.NoError(t, err)
	_, err = m.Start(ctx, 2, "sample")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	feed(t, m, 2, "still here")
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, m.ExpireIdle(ctx, 30*time.Minute))
	_, err = m.Current(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
	_, err = m.Current(ctx, 2)
	assert.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	m := NewMachine(testutil.NopLogger())
	cases := map[string]Definition{
		"no kind":          {States: []State{{Name: "a", Input: Text}}},
		"no states":        {Kind: "k"},
		"terminal name":    {Kind: "k", States: []State{{Name: Confirmed, Input: Text}}},
		"duplicate":        {Kind: "k", States: []State{{Name: "a", Input: Text}, {Name: "a", Input: Text}}},
		"unknown input":    {Kind: "k", States: []State{{Name: "a", Input: "blob"}}},
		"choice no opts":   {Kind: "k", States: []State{{Name: "a", Input: Choice}}},
		"choices_from fwd": {Kind: "k", States: []State{{Name: "a", Input: Choice, ChoicesFrom: "b"}, {Name: "b", Input: List}}},
		"skip ref later":   {Kind: "k", States: []State{{Name: "a", Input: Text, SkipWhen: &Condition{State: "b"}}, {Name: "b", Input: Text}}},
		"min > max":        {Kind: "k", States: []State{{Name: "a", Input: Number, Min: i64(5), Max: i64(1)}}},
		"repeat not number": {Kind: "k", States: []State{
			{Name: "n", Input: Text}, {Name: "a", Input: Text, Repeat: &Loop{From: "a", Times: "n"}}}},
	}
	for name, def := range cases {
		assert.ErrorIs(t, m.Register(def, nil), errs.ErrInvalidEntry, name)
	}
	assert.NoError(t, m.Register(sampleFlow(), nil))
	assert.True(t, m.Registered("sample"))
}

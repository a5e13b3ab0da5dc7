// Package flow runs data-driven, multi-step conversational flows such as quiz
// creation. Each user has at most one active session.
package flow

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/keylock"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Completer receives the answers of a flow that reached Confirmed.
type Completer interface {
	Complete(ctx context.Context, userID int64, kind string, answers []Answer) error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, userID int64, kind string, answers []Answer) error

func (f CompleterFunc) Complete(ctx context.Context, userID int64, kind string, answers []Answer) error {
	return f(ctx, userID, kind, answers)
}

// Session is a user's progress through a flow.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Answers   []Answer  `json:"answers"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	cursor int
	loops  map[string]int
}

func (s *Session) snapshot() Session {
	cp := *s
	cp.Answers = append([]Answer(nil), s.Answers...)
	cp.loops = nil
	return cp
}

// Step is the result of Start or Advance.
type Step struct {
	State      string   `json:"state"`
	Prompt     string   `json:"prompt,omitempty"`
	Choices    []string `json:"choices,omitempty"`
	Accepted   bool     `json:"accepted"`
	Done       bool     `json:"done"`
	Terminal   string   `json:"terminal,omitempty"`
	Answers    []Answer `json:"answers,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

type registration struct {
	def       Definition
	completer Completer
}

// Machine owns flow definitions and the per-user session table.
type Machine struct {
	mu       sync.RWMutex
	flows    map[string]*registration
	sessions *xsync.MapOf[int64, *Session]
	locker   keylock.Locker
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func NewMachine(logger *zap.Logger, opts ...Option) *Machine {
	m := &Machine{
		flows:    make(map[string]*registration),
		sessions: xsync.NewMapOf[int64, *Session](),
		locker:   keylock.NewLocal(),
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds or replaces a flow kind. c may be nil.
func (m *Machine) Register(def Definition, c Completer) error {
	if err := def.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[def.Kind] = &registration{def: def, completer: c}
	return nil
}

// Registered reports whether kind has a definition.
func (m *Machine) Registered(kind string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.flows[kind]
	return ok
}

func (m *Machine) flow(kind string) (*registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.flows[kind]
	if !ok {
		return nil, fmt.Errorf("flow %q: %w", kind, errs.ErrNotFound)
	}
	return r, nil
}

func lockKey(userID int64) string { return "flow:" + strconv.FormatInt(userID, 10) }

// Start opens a session for userID at the first state of kind.
func (m *Machine) Start(ctx context.Context, userID int64, kind string) (Step, error) {
	reg, err := m.flow(kind)
	if err != nil {
		return Step{}, err
	}
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		StartedAt: now,
		UpdatedAt: now,
		loops:     make(map[string]int),
	}
	s.cursor = m.settle(&reg.def, s, 0)
	if s.cursor >= len(reg.def.States) {
		return Step{}, errs.Invalid("flow %q skips every state", kind)
	}
	s.State = reg.def.States[s.cursor].Name

	if _, loaded := m.sessions.LoadOrStore(userID, s); loaded {
		return Step{}, errs.ErrSessionAlreadyActive
	}
	m.logger.Debug("flow started", zap.Int64("user_id", userID), zap.String("kind", kind), zap.String("session_id", s.ID))
	return m.prompt(&reg.def, s, Step{Accepted: true}), nil
}

// Current returns a copy of the user's active session.
func (m *Machine) Current(ctx context.Context, userID int64) (Session, error) {
	unlock, err := m.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return Session{}, err
	}
	defer unlock()
	s, ok := m.sessions.Load(userID)
	if !ok {
		return Session{}, errs.ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// Advance feeds one input to the user's session. Rejected input leaves the
// state and answers untouched and returns Accepted false with a reason.
// Reaching a terminal state removes the session; on Confirmed the flow's
// Completer is called with the answers, and its failure is returned as a
// StorageError alongside the final step.
func (m *Machine) Advance(ctx context.Context, userID int64, input string) (Step, error) {
	unlock, err := m.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return Step{}, err
	}
	defer unlock()

	s, ok := m.sessions.Load(userID)
	if !ok {
		return Step{}, errs.ErrSessionNotFound
	}
	reg, err := m.flow(s.Kind)
	if err != nil {
		return Step{}, err
	}
	def := &reg.def
	st := &def.States[s.cursor]

	ans, rej := parse(st, input, s.Answers)
	if rej != nil {
		m.logger.Debug("flow input rejected",
			zap.Int64("user_id", userID), zap.String("state", st.Name), zap.String("reason", rej.reason))
		step := m.prompt(def, s, Step{})
		step.Reason = rej.reason
		step.Suggestion = rej.suggestion
		return step, nil
	}

	s.Answers = append(s.Answers, ans)
	s.UpdatedAt = m.now()

	if st.Input == Confirm && ans.Value == "no" {
		return m.finish(ctx, reg, s, Cancelled)
	}
	next := s.cursor + 1
	if st.Repeat != nil {
		s.loops[st.Name]++
		if s.loops[st.Name] < m.loopTimes(st.Repeat, s.Answers) {
			next = def.index(st.Repeat.From)
		}
	}
	next = m.settle(def, s, next)
	if next >= len(def.States) {
		return m.finish(ctx, reg, s, Confirmed)
	}
	s.cursor = next
	s.State = def.States[next].Name
	return m.prompt(def, s, Step{Accepted: true}), nil
}

// Cancel moves the user's session to Cancelled and removes it.
func (m *Machine) Cancel(ctx context.Context, userID int64) error {
	unlock, err := m.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return err
	}
	defer unlock()
	s, ok := m.sessions.LoadAndDelete(userID)
	if !ok {
		return errs.ErrSessionNotFound
	}
	m.logger.Debug("flow cancelled", zap.Int64("user_id", userID), zap.String("kind", s.Kind), zap.String("state", s.State))
	return nil
}

// ExpireIdle removes sessions untouched for longer than idle and reports how many.
func (m *Machine) ExpireIdle(ctx context.Context, idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	var users []int64
	m.sessions.Range(func(userID int64, _ *Session) bool {
		users = append(users, userID)
		return true
	})
	removed := 0
	for _, userID := range users {
		unlock, err := m.locker.Lock(ctx, lockKey(userID))
		if err != nil {
			break
		}
		if s, ok := m.sessions.Load(userID); ok && s.UpdatedAt.Before(cutoff) {
			m.sessions.Delete(userID)
			removed++
		}
		unlock()
	}
	if removed > 0 {
		m.logger.Info("idle flow sessions expired", zap.Int("count", removed))
	}
	return removed
}

// Active reports how many sessions are open.
func (m *Machine) Active() int { return m.sessions.Size() }

func (m *Machine) finish(ctx context.Context, reg *registration, s *Session, terminal string) (Step, error) {
	m.sessions.Delete(s.UserID)
	s.State = terminal
	step := Step{
		State:    terminal,
		Accepted: true,
		Done:     true,
		Terminal: terminal,
		Answers:  append([]Answer(nil), s.Answers...),
	}
	m.logger.Debug("flow finished",
		zap.Int64("user_id", s.UserID), zap.String("kind", s.Kind), zap.String("terminal", terminal))
	if terminal != Confirmed || reg.completer == nil {
		return step, nil
	}
	if err := reg.completer.Complete(ctx, s.UserID, s.Kind, step.Answers); err != nil {
		m.logger.Error("flow completion failed",
			zap.Int64("user_id", s.UserID), zap.String("kind", s.Kind), zap.Error(err))
		if errs.IsValidation(err) {
			return step, err
		}
		return step, errs.Storage("flow.complete", err)
	}
	return step, nil
}

// settle moves from index i past every state whose SkipWhen holds.
func (m *Machine) settle(def *Definition, s *Session, i int) int {
	for i < len(def.States) && holds(def.States[i].SkipWhen, s.Answers) {
		i++
	}
	return i
}

func (m *Machine) loopTimes(l *Loop, answers []Answer) int {
	a, ok := latest(answers, l.Times)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(a.Value)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (m *Machine) prompt(def *Definition, s *Session, step Step) Step {
	st := &def.States[s.cursor]
	step.State = st.Name
	step.Prompt = st.Prompt
	if st.Input == Choice && !holds(st.OpenWhen, s.Answers) {
		step.Choices = append([]string(nil), options(st, s.Answers)...)
	}
	return step
}

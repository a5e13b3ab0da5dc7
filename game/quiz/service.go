// Package quiz persists quizzes built through the creation flow and scores
// players who answer them.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/flow"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Question is one quiz question.
type Question struct {
	Text          string   `json:"text"`
	Type          string   `json:"type"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer []string `json:"correct_answer"`
	Points        int64    `json:"points"`
	UnlockContent string   `json:"unlock_content,omitempty"`
}

// Quiz is a saved quiz.
type Quiz struct {
	ID        int64      `json:"id"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	AuthorID  int64      `json:"author_id"`
	Questions []Question `json:"questions"`
}

// MaxScore sums the points of every question.
func (q Quiz) MaxScore() int64 {
	var sum int64
	for _, qu := range q.Questions {
		sum += qu.Points
	}
	return sum
}

// Attempt is a scored answering session.
type Attempt struct {
	QuizID   int64    `json:"quiz_id"`
	Slug     string   `json:"slug"`
	UserID   int64    `json:"user_id"`
	Score    int64    `json:"score"`
	MaxScore int64    `json:"max_score"`
	Correct  []bool   `json:"correct"`
	Unlocked []string `json:"unlocked,omitempty"`
}

// Service stores quizzes and registers their answering flows on a Machine.
type Service struct {
	db        *gorm.DB
	machine   *flow.Machine
	granter   reward.Granter
	onAttempt func(ctx context.Context, a Attempt)
	onCreate  func(ctx context.Context, q Quiz)
	logger    *zap.Logger
}

type Option func(*Service)

// OnAttempt is called after an attempt is scored and stored.
func OnAttempt(fn func(ctx context.Context, a Attempt)) Option {
	return func(s *Service) { s.onAttempt = fn }
}

// OnCreate is called after a quiz is saved.
func OnCreate(fn func(ctx context.Context, q Quiz)) Option {
	return func(s *Service) { s.onCreate = fn }
}

// NewService creates the quiz service and registers the creation flow on
// machine. granter pays the score and delivers the unlock content.
func NewService(db *gorm.DB, machine *flow.Machine, granter reward.Granter, logger *zap.Logger, opts ...Option) (*Service, error) {
	s := &Service{db: db, machine: machine, granter: granter, logger: logger}
	for _, o := range opts {
		o(s)
	}
	if err := machine.Register(CreationFlow(), flow.CompleterFunc(s.completeCreation)); err != nil {
		return nil, err
	}
	return s, nil
}

// Build assembles a quiz from the answers of a confirmed creation flow.
func Build(authorID int64, answers []flow.Answer) (Quiz, error) {
	q := Quiz{AuthorID: authorID}
	var cur *Question
	for _, a := range answers {
		switch a.State {
		case "title":
			q.Title = a.Value
		case "question_text":
			q.Questions = append(q.Questions, Question{Text: a.Value})
			cur = &q.Questions[len(q.Questions)-1]
		case "question_type", "question_options", "correct_answer", "points", "unlock_content":
			if cur == nil {
				return Quiz{}, errs.Invalid("answer %q before any question", a.State)
			}
			switch a.State {
			case "question_type":
				cur.Type = a.Value
			case "question_options":
				cur.Options = a.Items
			case "correct_answer":
				if len(a.Items) > 0 {
					cur.CorrectAnswer = a.Items
				} else {
					cur.CorrectAnswer = []string{a.Value}
				}
			case "points":
				n, err := strconv.ParseInt(a.Value, 10, 64)
				if err != nil {
					return Quiz{}, errs.Invalid("points %q: %v", a.Value, err)
				}
				cur.Points = n
			case "unlock_content":
				if model.KeyTooLong(a.Value) {
					return Quiz{}, errs.Invalid("unlock content exceeds %d characters", model.MaxKeyLen)
				}
				if !strings.EqualFold(a.Value, "none") && a.Value != "-" {
					cur.UnlockContent = a.Value
				}
			}
		}
	}
	if q.Title == "" || len(q.Questions) == 0 {
		return Quiz{}, errs.Invalid("quiz needs a title and at least one question")
	}
	return q, nil
}

func (s *Service) completeCreation(ctx context.Context, userID int64, _ string, answers []flow.Answer) error {
	q, err := Build(userID, answers)
	if err != nil {
		return err
	}
	q, err = s.Save(ctx, q)
	if err != nil {
		return err
	}
	if s.onCreate != nil {
		s.onCreate(ctx, q)
	}
	return nil
}

// maxSlugRetries bounds how often Save picks a new slug after losing an
// insert race on the unique slug index.
const maxSlugRetries = 5

// maxSlugLen leaves room for a numeric suffix and the "quiz:" grant reason.
const maxSlugLen = 100

func uniqueSlug(ctx context.Context, db *gorm.DB, title string) (string, error) {
	base := slug.Make(title)
	if len(base) > maxSlugLen {
		base = strings.TrimRight(base[:maxSlugLen], "-")
	}
	if base == "" {
		base = "quiz"
	}
	candidate := base
	for i := 2; ; i++ {
		taken, err := slugTaken(ctx, db, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func slugTaken(ctx context.Context, db *gorm.DB, sl string) (bool, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&model.Quiz{}).Where("slug = ?", sl).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Save persists q under a fresh slug and registers its answering flow.
func (s *Service) Save(ctx context.Context, q Quiz) (Quiz, error) {
	raw, err := json.Marshal(q.Questions)
	if err != nil {
		return Quiz{}, errs.Invalid("encode questions: %v", err)
	}
	for try := 1; ; try++ {
		sl, err := uniqueSlug(ctx, s.db, q.Title)
		if err != nil {
			s.logger.Error("save quiz failed", zap.Int64("author_id", q.AuthorID), zap.Error(err))
			return Quiz{}, errs.Storage("quiz.save", err)
		}
		row := model.Quiz{Slug: sl, Title: q.Title, AuthorID: q.AuthorID, Questions: datatypes.JSON(raw)}
		err = s.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			q.ID, q.Slug = row.ID, row.Slug
			break
		}
		// Another save took the slug between the lookup and the insert.
		if taken, terr := slugTaken(ctx, s.db, sl); terr == nil && taken && try < maxSlugRetries {
			s.logger.Debug("quiz slug taken, retrying", zap.String("slug", sl), zap.Int("try", try))
			continue
		}
		s.logger.Error("save quiz failed", zap.Int64("author_id", q.AuthorID), zap.String("slug", sl), zap.Error(err))
		return Quiz{}, errs.Storage("quiz.save", err)
	}
	if err := s.register(q); err != nil {
		return Quiz{}, err
	}
	s.logger.Info("quiz saved", zap.String("slug", q.Slug), zap.Int("questions", len(q.Questions)))
	return q, nil
}

func (s *Service) register(q Quiz) error {
	return s.machine.Register(AnsweringFlow(q), flow.CompleterFunc(func(ctx context.Context, userID int64, _ string, answers []flow.Answer) error {
		_, err := s.Score(ctx, q, userID, answers)
		return err
	}))
}

func toQuiz(row model.Quiz) (Quiz, error) {
	q := Quiz{ID: row.ID, Slug: row.Slug, Title: row.Title, AuthorID: row.AuthorID}
	if len(row.Questions) > 0 {
		if err := json.Unmarshal(row.Questions, &q.Questions); err != nil {
			return Quiz{}, errs.Invalid("quiz %q questions: %v", row.Slug, err)
		}
	}
	return q, nil
}

// Get loads a quiz by slug.
func (s *Service) Get(ctx context.Context, sl string) (Quiz, error) {
	var row model.Quiz
	err := s.db.WithContext(ctx).Where("slug = ?", sl).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Quiz{}, fmt.Errorf("quiz %q: %w", sl, errs.ErrNotFound)
	}
	if err != nil {
		return Quiz{}, errs.Storage("quiz.get", err)
	}
	return toQuiz(row)
}

// List returns every quiz, oldest first.
func (s *Service) List(ctx context.Context) ([]Quiz, error) {
	var rows []model.Quiz
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errs.Storage("quiz.list", err)
	}
	out := make([]Quiz, 0, len(rows))
	for _, r := range rows {
		q, err := toQuiz(r)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Resolve makes sure the flow kind can be started. Answering flows of stored
// quizzes are registered lazily, e.g. after a restart.
func (s *Service) Resolve(ctx context.Context, kind string) error {
	if s.machine.Registered(kind) {
		return nil
	}
	sl, ok := SlugFromKind(kind)
	if !ok {
		return fmt.Errorf("flow %q: %w", kind, errs.ErrNotFound)
	}
	q, err := s.Get(ctx, sl)
	if err != nil {
		return err
	}
	return s.register(q)
}

// Admit resolves kind for userID. Authors may not answer their own quiz and
// nobody answers the same quiz twice.
func (s *Service) Admit(ctx context.Context, userID int64, kind string) error {
	if err := s.Resolve(ctx, kind); err != nil {
		return err
	}
	sl, ok := SlugFromKind(kind)
	if !ok {
		return nil
	}
	q, err := s.Get(ctx, sl)
	if err != nil {
		return err
	}
	return s.eligible(ctx, q, userID)
}

func (s *Service) eligible(ctx context.Context, q Quiz, userID int64) error {
	if q.AuthorID == userID {
		return errs.Invalid("authors cannot answer their own quiz %q", q.Slug)
	}
	answered, err := s.answered(ctx, q.ID, userID)
	if err != nil {
		return err
	}
	if answered {
		return fmt.Errorf("quiz %q: %w", q.Slug, errs.ErrAlreadyAnswered)
	}
	return nil
}

func (s *Service) answered(ctx context.Context, quizID, userID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.QuizAttempt{}).
		Where("quiz_id = ? AND user_id = ?", quizID, userID).Count(&n).Error
	if err != nil {
		return false, errs.Storage("quiz.answered", err)
	}
	return n > 0, nil
}

func correct(q Question, a flow.Answer) bool {
	given := a.Items
	if len(given) == 0 {
		given = []string{a.Value}
	}
	if len(given) != len(q.CorrectAnswer) {
		return false
	}
	want := make(map[string]bool, len(q.CorrectAnswer))
	for _, c := range q.CorrectAnswer {
		want[strings.ToLower(strings.TrimSpace(c))] = true
	}
	for _, g := range given {
		if !want[strings.ToLower(strings.TrimSpace(g))] {
			return false
		}
	}
	return true
}

// Score grades answers to q, stores the attempt and grants the score plus the
// unlock content of every correct answer. Only the first attempt per user is
// scored. If the first grant fails the attempt is removed so the user may
// answer again; a later failure keeps it so nothing is paid twice.
func (s *Service) Score(ctx context.Context, q Quiz, userID int64, answers []flow.Answer) (Attempt, error) {
	att := Attempt{QuizID: q.ID, Slug: q.Slug, UserID: userID, MaxScore: q.MaxScore(), Correct: make([]bool, len(q.Questions))}
	if err := s.eligible(ctx, q, userID); err != nil {
		return att, err
	}
	for i, question := range q.Questions {
		a, ok := findAnswer(answers, fmt.Sprintf("q%d", i+1))
		if !ok || !correct(question, a) {
			continue
		}
		att.Correct[i] = true
		att.Score += question.Points
		if question.UnlockContent != "" {
			att.Unlocked = append(att.Unlocked, question.UnlockContent)
		}
	}

	raw, err := json.Marshal(answers)
	if err != nil {
		return att, errs.Invalid("encode answers: %v", err)
	}
	row := model.QuizAttempt{QuizID: q.ID, UserID: userID, Score: att.Score, MaxScore: att.MaxScore, Answers: datatypes.JSON(raw)}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if answered, aerr := s.answered(ctx, q.ID, userID); aerr == nil && answered {
			return att, fmt.Errorf("quiz %q: %w", q.Slug, errs.ErrAlreadyAnswered)
		}
		s.logger.Error("save quiz attempt failed", zap.Int64("user_id", userID), zap.String("slug", q.Slug), zap.Error(err))
		return att, errs.Storage("quiz.attempt", err)
	}

	granted, err := s.grant(ctx, q, att)
	if err != nil {
		if granted == 0 {
			s.forget(ctx, row)
		}
		s.logger.Error("quiz grant failed",
			zap.Int64("user_id", userID), zap.String("slug", q.Slug), zap.Int("granted", granted), zap.Error(err))
		return att, errs.Storage("quiz.grant", err)
	}
	s.logger.Info("quiz scored",
		zap.Int64("user_id", userID), zap.String("slug", q.Slug), zap.Int64("score", att.Score), zap.Int64("max", att.MaxScore))
	if s.onAttempt != nil {
		s.onAttempt(ctx, att)
	}
	return att, nil
}

// grant pays att and returns how many grants went through.
func (s *Service) grant(ctx context.Context, q Quiz, att Attempt) (int, error) {
	reason := "quiz:" + q.Slug
	n := 0
	if att.Score > 0 {
		if err := s.granter.GrantPoints(ctx, att.UserID, att.Score, reason); err != nil {
			return n, err
		}
		n++
	}
	for _, code := range att.Unlocked {
		if err := s.granter.GrantCode(ctx, att.UserID, code, reason); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Service) forget(ctx context.Context, row model.QuizAttempt) {
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Delete(&model.QuizAttempt{}, row.ID).Error; err != nil {
		s.logger.Error("remove quiz attempt failed", zap.Int64("attempt_id", row.ID), zap.Error(err))
	}
}

func findAnswer(answers []flow.Answer, state string) (flow.Answer, bool) {
	for i := len(answers) - 1; i >= 0; i-- {
		if answers[i].State == state {
			return answers[i], true
		}
	}
	return flow.Answer{}, false
}

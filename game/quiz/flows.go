package quiz

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/engagebot/game/flow"
	"github.com/kasuganosora/engagebot/model"
)

// CreationKind is the flow kind that builds a new quiz.
const CreationKind = "quiz_creation"

const answeringPrefix = "quiz:"

// Question types.
const (
	Single   = "single"
	Multiple = "multiple"
	Open     = "open"
)

func i64(v int64) *int64 { return &v }

// CreationFlow returns the quiz creation flow:
// title, total_questions, then per question text, type, options (skipped for
// open questions), correct answer, points and unlock content, then confirm.
func CreationFlow() flow.Definition {
	isOpen := &flow.Condition{State: "question_type", Equals: Open}
	return flow.Definition{
		Kind: CreationKind,
		States: []flow.State{
			{Name: "title", Prompt: "Quiz title?", Input: flow.Text, Max: i64(200)},
			{Name: "total_questions", Prompt: "How many questions?", Input: flow.Number, Min: i64(1), Max: i64(50)},
			{Name: "question_text", Prompt: "Question text?", Input: flow.Text},
			{Name: "question_type", Prompt: "Question type?", Input: flow.Choice, Choices: []string{Single, Multiple, Open}},
			{Name: "question_options", Prompt: "Options, comma separated?", Input: flow.List, SkipWhen: isOpen},
			{Name: "correct_answer", Prompt: "Correct answer?", Input: flow.Choice, ChoicesFrom: "question_options",
				OpenWhen:     isOpen,
				MultipleWhen: &flow.Condition{State: "question_type", Equals: Multiple}},
			{Name: "points", Prompt: "Points for a correct answer?", Input: flow.Number, Min: i64(0), Max: i64(10000)},
			{Name: "unlock_content", Prompt: "Content unlocked by a correct answer (or \"none\")?", Input: flow.Text, Max: i64(model.MaxKeyLen),
				Repeat: &flow.Loop{From: "question_text", Times: "total_questions"}},
			{Name: "confirm", Prompt: "Save this quiz?", Input: flow.Confirm},
		},
	}
}

// AnsweringKind is the flow kind for answering the quiz with the given slug.
func AnsweringKind(slug string) string { return answeringPrefix + slug }

// SlugFromKind extracts the quiz slug from an answering flow kind.
func SlugFromKind(kind string) (string, bool) {
	slug, ok := strings.CutPrefix(kind, answeringPrefix)
	return slug, ok && slug != ""
}

// AnsweringFlow derives the flow a player walks through to answer q.
func AnsweringFlow(q Quiz) flow.Definition {
	states := make([]flow.State, 0, len(q.Questions)+1)
	for i, question := range q.Questions {
		st := flow.State{
			Name:   fmt.Sprintf("q%d", i+1),
			Prompt: question.Text,
			Input:  flow.Text,
		}
		if question.Type != Open {
			st.Input = flow.Choice
			st.Choices = question.Options
			st.Multiple = question.Type == Multiple
		}
		states = append(states, st)
	}
	states = append(states, flow.State{Name: "submit", Prompt: "Submit your answers?", Input: flow.Confirm})
	return flow.Definition{Kind: AnsweringKind(q.Slug), States: states}
}

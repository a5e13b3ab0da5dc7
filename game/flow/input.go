package flow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
)

// Answer is one accepted input.
type Answer struct {
	State string   `json:"state"`
	Value string   `json:"value"`
	Items []string `json:"items,omitempty"` // list items or multiple choices
}

// rejection explains why input was not accepted.
type rejection struct {
	reason     string
	suggestion string
}

func reject(format string, args ...any) *rejection {
	return &rejection{reason: fmt.Sprintf(format, args...)}
}

// latest returns the most recent answer for state.
func latest(answers []Answer, state string) (Answer, bool) {
	for i := len(answers) - 1; i >= 0; i-- {
		if answers[i].State == state {
			return answers[i], true
		}
	}
	return Answer{}, false
}

func holds(c *Condition, answers []Answer) bool {
	if c == nil {
		return false
	}
	a, ok := latest(answers, c.State)
	return ok && strings.EqualFold(a.Value, c.Equals)
}

// options resolves the choices offered by s.
func options(s *State, answers []Answer) []string {
	if s.ChoicesFrom == "" {
		return s.Choices
	}
	a, _ := latest(answers, s.ChoicesFrom)
	return a.Items
}

// parse validates raw against s and returns the normalized answer.
func parse(s *State, raw string, answers []Answer) (Answer, *rejection) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Answer{}, reject("an answer is required")
	}
	switch s.Input {
	case Text:
		return parseText(s, raw)
	case Number:
		return parseNumber(s, raw)
	case List:
		return parseList(s, raw)
	case Confirm:
		switch strings.ToLower(raw) {
		case "yes", "y":
			return Answer{State: s.Name, Value: "yes"}, nil
		case "no", "n":
			return Answer{State: s.Name, Value: "no"}, nil
		}
		return Answer{}, reject("answer yes or no")
	case Choice:
		if holds(s.OpenWhen, answers) {
			return parseText(s, raw)
		}
		return parseChoice(s, raw, options(s, answers), s.Multiple || holds(s.MultipleWhen, answers))
	}
	return Answer{}, reject("unsupported input")
}

func parseText(s *State, raw string) (Answer, *rejection) {
	n := int64(utf8.RuneCountInString(raw))
	if s.Min != nil && n < *s.Min {
		return Answer{}, reject("at least %d characters", *s.Min)
	}
	if s.Max != nil && n > *s.Max {
		return Answer{}, reject("at most %d characters", *s.Max)
	}
	return Answer{State: s.Name, Value: raw}, nil
}

func parseNumber(s *State, raw string) (Answer, *rejection) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Answer{}, reject("%q is not a whole number", raw)
	}
	if s.Min != nil && v < *s.Min {
		return Answer{}, reject("must be at least %d", *s.Min)
	}
	if s.Max != nil && v > *s.Max {
		return Answer{}, reject("must be at most %d", *s.Max)
	}
	return Answer{State: s.Name, Value: strconv.FormatInt(v, 10)}, nil
}

func splitItems(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

func parseList(s *State, raw string) (Answer, *rejection) {
	items := splitItems(raw)
	minItems := int64(2)
	if s.Min != nil {
		minItems = *s.Min
	}
	if int64(len(items)) < minItems {
		return Answer{}, reject("give at least %d comma separated items", minItems)
	}
	if s.Max != nil && int64(len(items)) > *s.Max {
		return Answer{}, reject("give at most %d items", *s.Max)
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		k := strings.ToLower(it)
		if seen[k] {
			return Answer{}, reject("%q is listed twice", it)
		}
		seen[k] = true
	}
	return Answer{State: s.Name, Value: strings.Join(items, ", "), Items: items}, nil
}

// match resolves one selection by 1-based index or case-insensitive text.
func match(sel string, opts []string) (string, bool) {
	if i, err := strconv.Atoi(sel); err == nil && i >= 1 && i <= len(opts) {
		return opts[i-1], true
	}
	for _, o := range opts {
		if strings.EqualFold(o, sel) {
			return o, true
		}
	}
	return "", false
}

func parseChoice(s *State, raw string, opts []string, multiple bool) (Answer, *rejection) {
	if len(opts) == 0 {
		return Answer{}, reject("no choices available")
	}
	sels := []string{raw}
	if multiple {
		sels = splitItems(raw)
	}
	picked := make([]string, 0, len(sels))
	seen := make(map[string]bool, len(sels))
	for _, sel := range sels {
		o, ok := match(sel, opts)
		if !ok {
			r := reject("%q is not one of: %s", sel, strings.Join(opts, ", "))
			r.suggestion = suggest(sel, opts)
			return Answer{}, r
		}
		if !seen[o] {
			seen[o] = true
			picked = append(picked, o)
		}
	}
	a := Answer{State: s.Name, Value: strings.Join(picked, ", ")}
	if multiple {
		a.Items = picked
	}
	return a, nil
}

// suggest returns the closest option to input, or "".
func suggest(input string, opts []string) string {
	lower := make([]string, len(opts))
	for i, o := range opts {
		lower[i] = strings.ToLower(o)
	}
	matches := fuzzy.Find(strings.ToLower(input), lower)
	if len(matches) == 0 {
		return ""
	}
	return opts[matches[0].Index]
}

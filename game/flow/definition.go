package flow

import (
	"strings"

	"github.com/kasuganosora/engagebot/errs"
)

// InputKind is the shape of input a state accepts.
type InputKind string

const (
	Text    InputKind = "text"
	Number  InputKind = "number"
	Choice  InputKind = "choice"
	List    InputKind = "list"
	Confirm InputKind = "confirm"
)

// Terminal states. Every flow ends in one of them.
const (
	Confirmed = "confirmed"
	Cancelled = "cancelled"
)

// Condition holds when the latest answer of State equals Equals (case-insensitive).
type Condition struct {
	State  string `yaml:"state" json:"state"`
	Equals string `yaml:"equals" json:"equals"`
}

// Loop sends the flow back to From after a state until it ran as many times
// as the numeric answer of Times.
type Loop struct {
	From  string `yaml:"from" json:"from"`
	Times string `yaml:"times" json:"times"`
}

// State describes one step of a flow.
type State struct {
	Name   string    `yaml:"name" json:"name"`
	Prompt string    `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Input  InputKind `yaml:"input" json:"input"`

	// Choice options, either fixed or taken from an earlier List answer.
	Choices     []string `yaml:"choices,omitempty" json:"choices,omitempty"`
	ChoicesFrom string   `yaml:"choices_from,omitempty" json:"choices_from,omitempty"`
	Multiple    bool     `yaml:"multiple,omitempty" json:"multiple,omitempty"`

	// Number bounds, text length bounds or list size bounds.
	Min *int64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *int64 `yaml:"max,omitempty" json:"max,omitempty"`

	SkipWhen     *Condition `yaml:"skip_when,omitempty" json:"skip_when,omitempty"`
	OpenWhen     *Condition `yaml:"open_when,omitempty" json:"open_when,omitempty"`         // choice becomes free text
	MultipleWhen *Condition `yaml:"multiple_when,omitempty" json:"multiple_when,omitempty"` // choice accepts several options
	Repeat       *Loop      `yaml:"repeat,omitempty" json:"repeat,omitempty"`
}

// Definition is a flow kind: an ordered list of states. Accepting the last
// state reaches Confirmed; a Confirm state answered "no" reaches Cancelled.
type Definition struct {
	Kind   string  `yaml:"kind" json:"kind"`
	States []State `yaml:"states" json:"states"`
}

func (d *Definition) index(name string) int {
	for i := range d.States {
		if d.States[i].Name == name {
			return i
		}
	}
	return -1
}

// Validate checks that d is well formed.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Kind) == "" {
		return errs.Invalid("flow kind is required")
	}
	if len(d.States) == 0 {
		return errs.Invalid("flow %q has no states", d.Kind)
	}
	seen := make(map[string]int, len(d.States))
	earlier := func(i int, ref string) (State, error) {
		j, ok := seen[ref]
		if !ok {
			return State{}, errs.Invalid("flow %q state %q references unknown or later state %q", d.Kind, d.States[i].Name, ref)
		}
		return d.States[j], nil
	}
	for i, s := range d.States {
		if s.Name == "" || s.Name == Confirmed || s.Name == Cancelled {
			return errs.Invalid("flow %q: invalid state name %q", d.Kind, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return errs.Invalid("flow %q: duplicate state %q", d.Kind, s.Name)
		}
		if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
			return errs.Invalid("flow %q state %q: min > max", d.Kind, s.Name)
		}
		switch s.Input {
		case Text, Number, List, Confirm:
		case Choice:
			if len(s.Choices) == 0 && s.ChoicesFrom == "" {
				return errs.Invalid("flow %q state %q: choice needs choices", d.Kind, s.Name)
			}
			if s.ChoicesFrom != "" {
				src, err := earlier(i, s.ChoicesFrom)
				if err != nil {
					return err
				}
				if src.Input != List {
					return errs.Invalid("flow %q state %q: choices_from must name a list state", d.Kind, s.Name)
				}
			}
		default:
			return errs.Invalid("flow %q state %q: unknown input %q", d.Kind, s.Name, s.Input)
		}
		for _, c := range []*Condition{s.SkipWhen, s.OpenWhen, s.MultipleWhen} {
			if c == nil {
				continue
			}
			if _, err := earlier(i, c.State); err != nil {
				return err
			}
		}
		if s.Repeat != nil {
			if s.SkipWhen != nil {
				return errs.Invalid("flow %q state %q: a skippable state cannot close a loop", d.Kind, s.Name)
			}
			seen[s.Name] = i // a loop may restart at its own closing state
			if _, err := earlier(i, s.Repeat.From); err != nil {
				return err
			}
			times, err := earlier(i, s.Repeat.Times)
			if err != nil {
				return err
			}
			if times.Input != Number {
				return errs.Invalid("flow %q state %q: repeat times must name a number state", d.Kind, s.Name)
			}
			if d.index(s.Repeat.Times) >= d.index(s.Repeat.From) {
				return errs.Invalid("flow %q state %q: repeat count must be answered before the loop", d.Kind, s.Name)
			}
		}
		seen[s.Name] = i
	}
	return nil
}

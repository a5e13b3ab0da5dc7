package mission

import (
	"github.com/kasuganosora/engagebot/errs"
)

// Progress is a snapshot of a user's named activity counters.
type Progress map[string]int64

// Rule decides whether a progress snapshot completes a mission.
type Rule interface {
	Satisfied(p Progress) bool
}

// RuleFunc adapts an arbitrary predicate to Rule.
type RuleFunc func(p Progress) bool

func (f RuleFunc) Satisfied(p Progress) bool { return f(p) }

const (
	KindCounterAtLeast = "counter_at_least"
	KindAllOf          = "all_of"
	KindAnyOf          = "any_of"
)

// RuleSpec is the data form of a Rule as written in definition files.
type RuleSpec struct {
	Kind      string     `yaml:"kind" json:"kind"`
	Counter   string     `yaml:"counter,omitempty" json:"counter,omitempty"`
	Threshold int64      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Rules     []RuleSpec `yaml:"rules,omitempty" json:"rules,omitempty"`
}

type counterAtLeast struct {
	counter   string
	threshold int64
}

func (r counterAtLeast) Satisfied(p Progress) bool { return p[r.counter] >= r.threshold }

type allOf []Rule

func (r allOf) Satisfied(p Progress) bool {
	for _, sub := range r {
		if !sub.Satisfied(p) {
			return false
		}
	}
	return true
}

type anyOf []Rule

func (r anyOf) Satisfied(p Progress) bool {
	for _, sub := range r {
		if sub.Satisfied(p) {
			return true
		}
	}
	return false
}

// Compile turns a RuleSpec into a Rule. Malformed specs yield errs.ErrInvalidEntry.
func Compile(spec RuleSpec) (Rule, error) {
	switch spec.Kind {
	case KindCounterAtLeast:
		if spec.Counter == "" {
			return nil, errs.Invalid("%s: counter is required", spec.Kind)
		}
		if spec.Threshold < 0 {
			return nil, errs.Invalid("%s: negative threshold %d", spec.Kind, spec.Threshold)
		}
		return counterAtLeast{counter: spec.Counter, threshold: spec.Threshold}, nil
	case KindAllOf, KindAnyOf:
		if len(spec.Rules) == 0 {
			return nil, errs.Invalid("%s: needs at least one rule", spec.Kind)
		}
		subs := make([]Rule, 0, len(spec.Rules))
		for _, s := range spec.Rules {
			r, err := Compile(s)
			if err != nil {
				return nil, err
			}
			subs = append(subs, r)
		}
		if spec.Kind == KindAllOf {
			return allOf(subs), nil
		}
		return anyOf(subs), nil
	default:
		return nil, errs.Invalid("unknown rule kind %q", spec.Kind)
	}
}

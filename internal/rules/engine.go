// Package rules implements the deterministic fast-path classifier. An Engine
// holds an ordered list of patterns; the first pattern that matches the
// normalized text decides the route. Engines are immutable after
// construction and safe for concurrent use.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/whisper/bridge/internal/route"
)

// Kind selects how a pattern is matched against text.
type Kind string

const (
	KindContains Kind = "contains"
	KindPrefix   Kind = "prefix"
	KindRegex    Kind = "regex"
)

// Spec is the configuration form of a rule, loadable from YAML.
type Spec struct {
	Name       string      `yaml:"name"`
	Kind       Kind        `yaml:"kind"`
	Pattern    string      `yaml:"pattern"`
	Route      route.Route `yaml:"route"`
	Confidence float64     `yaml:"confidence"`
}

// Result is the outcome of Classify. MatchedPattern is the rule name, or
// empty when nothing matched.
type Result struct {
	Route          route.Route
	Confidence     float64
	MatchedPattern string
}

// rule is a compiled Spec.
type rule struct {
	name       string
	route      route.Route
	confidence float64
	match      func(string) bool
}

// Engine classifies text against an ordered rule list.
type Engine struct {
	rules []rule
}

// New compiles specs in order. Patterns are normalized the same way input
// text is, so a rule written as "Computer" matches "computer".
func New(specs []Spec) (*Engine, error) {
	e := &Engine{rules: make([]rule, 0, len(specs))}
	for i, s := range specs {
		r, err := compile(s)
		if err != nil {
			return nil, fmt.Errorf("rules: rule %d (%s): %w", i, s.Name, err)
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

// MustNew is like New but panics on an invalid spec. Intended for
// package-level defaults and tests.
func MustNew(specs []Spec) *Engine {
	e, err := New(specs)
	if err != nil {
		panic(err)
	}
	return e
}

func compile(s Spec) (rule, error) {
	if !s.Route.Valid() || s.Route == route.Blocked {
		return rule{}, fmt.Errorf("invalid route %q", s.Route)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return rule{}, fmt.Errorf("confidence %v out of range", s.Confidence)
	}
	name := s.Name
	if name == "" {
		name = string(s.Kind) + ":" + s.Pattern
	}
	r := rule{name: name, route: s.Route, confidence: s.Confidence}

	switch s.Kind {
	case KindContains, "":
		p := route.Normalize(s.Pattern)
		if p == "" {
			return rule{}, fmt.Errorf("empty pattern")
		}
		r.match = func(text string) bool { return strings.Contains(text, p) }
	case KindPrefix:
		p := route.Normalize(s.Pattern)
		if p == "" {
			return rule{}, fmt.Errorf("empty pattern")
		}
		r.match = func(text string) bool { return strings.HasPrefix(text, p) }
	case KindRegex:
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return rule{}, err
		}
		r.match = re.MatchString
	default:
		return rule{}, fmt.Errorf("unknown kind %q", s.Kind)
	}
	return r, nil
}

// Classify returns the first matching rule's route. Text is expected to be
// normalized already (see route.Normalize). No match yields route.Unknown
// with zero confidence.
func (e *Engine) Classify(text string) Result {
	for _, r := range e.rules {
		if r.match(text) {
			return Result{Route: r.route, Confidence: r.confidence, MatchedPattern: r.name}
		}
	}
	return Result{Route: route.Unknown}
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

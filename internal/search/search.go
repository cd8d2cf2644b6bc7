// Package search implements the joke search predicate.
//
// A search string without operators is a case-insensitive substring match. A string containing the
// wildcard (*) or OR (|) operator is turned into a regular expression, which is checked by Analyze
// before it is ever compiled or executed.
package search

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"regexp/syntax"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	DefaultRepetitionLimit = 25
	DefaultMatchTimeout    = 50 * time.Millisecond

	wildcard = "*"
	or       = "|"
)

var (
	ErrPatternTooComplex = errors.New("search pattern is too complex")
	ErrInvalidPattern    = errors.New("search pattern is invalid")
)

type Options struct {
	// RepetitionLimit is the maximum number of repetition operators a pattern may contain.
	RepetitionLimit int
	// MatchTimeout bounds a single regex evaluation.
	MatchTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RepetitionLimit <= 0 {
		o.RepetitionLimit = DefaultRepetitionLimit
	}
	if o.MatchTimeout <= 0 {
		o.MatchTimeout = DefaultMatchTimeout
	}
	return o
}

type mode int

const (
	modeAll mode = iota
	modeSubstring
	modePattern
)

// Matcher is safe for concurrent use.
type Matcher struct {
	mode    mode
	needle  string
	pattern string
	re      *regexp2.Regexp
}

// Compile builds the matcher for a raw, possibly URL-encoded, search string.
// Operator patterns that fail Analyze return ErrPatternTooComplex and are never compiled.
func Compile(raw string, opts Options) (*Matcher, error) {
	opts = opts.withDefaults()

	s := Decode(raw)
	if s == "" {
		return &Matcher{mode: modeAll}, nil
	}

	if !HasOperator(s) {
		return &Matcher{mode: modeSubstring, needle: strings.ToLower(s)}, nil
	}

	pattern := BuildPattern(s)
	if pattern == "" {
		return &Matcher{mode: modeAll}, nil
	}

	if err := Analyze(pattern, opts.RepetitionLimit); err != nil {
		return nil, err
	}

	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase|regexp2.Singleline)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	re.MatchTimeout = opts.MatchTimeout

	return &Matcher{mode: modePattern, pattern: pattern, re: re}, nil
}

// Match reports whether text satisfies the search.
func (m *Matcher) Match(text string) (bool, error) {
	switch m.mode {
	case modeAll:
		return true, nil
	case modeSubstring:
		return strings.Contains(strings.ToLower(text), m.needle), nil
	case modePattern:
		ok, err := m.re.MatchString(text)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrPatternTooComplex, err)
		}
		return ok, nil
	default:
		return false, fmt.Errorf("%w: unknown matcher mode %d", ErrInvalidPattern, m.mode)
	}
}

// Pattern returns the generated regular expression, empty unless the search used operators.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// Decode URL-decodes the search string. Strings that are not valid escapes are used as they are.
func Decode(raw string) string {
	s, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return s
}

func HasOperator(s string) bool {
	return strings.Contains(s, wildcard) || strings.Contains(s, or)
}

// BuildPattern escapes s and translates the operators: "*" becomes ".*" and "|" separates alternatives.
// Empty alternatives are dropped.
func BuildPattern(s string) string {
	var alternatives []string
	for _, segment := range strings.Split(s, or) {
		if segment == "" {
			continue
		}
		for strings.Contains(segment, wildcard+wildcard) {
			segment = strings.ReplaceAll(segment, wildcard+wildcard, wildcard)
		}

		parts := strings.Split(segment, wildcard)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		alternatives = append(alternatives, "(?:"+strings.Join(parts, ".*")+")")
	}
	return strings.Join(alternatives, or)
}

// Analyze rejects patterns that could backtrack catastrophically: more repetition operators than
// limit, or a repetition nested inside another one. It only parses the pattern.
func Analyze(pattern string, limit int) error {
	if limit <= 0 {
		limit = DefaultRepetitionLimit
	}

	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	reps := 0
	var walk func(n *syntax.Regexp, depth int) error
	walk = func(n *syntax.Regexp, depth int) error {
		switch n.Op {
		case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
			reps++
			depth++
			if depth > 1 {
				return fmt.Errorf("%w: nested repetition", ErrPatternTooComplex)
			}
			if reps > limit {
				return fmt.Errorf("%w: more than %d repetitions", ErrPatternTooComplex, limit)
			}
		}
		for _, sub := range n.Sub {
			if err := walk(sub, depth); err != nil {
				return err
			}
		}
		return nil
	}

	return walk(re, 0)
}

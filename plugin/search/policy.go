package search

import (
	"regexp"

	"github.com/pkg/errors"
)

// Policy decides whether an outgoing user message warrants a web lookup.
// It is a coarse trigger-phrase heuristic, kept configurable because false
// positives and negatives are inherent to the approach.
type Policy struct {
	triggers []*regexp.Regexp
}

// NewPolicy compiles the trigger expressions. An invalid expression fails
// the whole policy rather than being silently dropped.
func NewPolicy(triggers []string) (*Policy, error) {
	compiled := make([]*regexp.Regexp, 0, len(triggers))
	for _, t := range triggers {
		re, err := regexp.Compile(t)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid lookup trigger %q", t)
		}
		compiled = append(compiled, re)
	}
	return &Policy{triggers: compiled}, nil
}

// NeedsLookup reports whether any trigger matches the text.
func (p *Policy) NeedsLookup(text string) bool {
	for _, re := range p.triggers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

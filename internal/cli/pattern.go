// Package cli provides shared helpers for lockgate commands.
package cli

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Matcher selects item names against a glob pattern. Patterns use
// filepath.Match syntax (*?[); a pattern without glob characters is an
// exact comparison.
type Matcher struct {
	pattern string
	glob    bool
}

// NewMatcher validates pattern and returns a matcher over it.
func NewMatcher(pattern string) (*Matcher, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}
	return &Matcher{
		pattern: pattern,
		glob:    strings.ContainsAny(pattern, "*?["),
	}, nil
}

// Match reports whether name is selected by the pattern.
func (m *Matcher) Match(name string) bool {
	if !m.glob {
		return name == m.pattern
	}
	// Pattern validated in NewMatcher
	matched, _ := filepath.Match(m.pattern, name)
	return matched
}

package plot

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// Matcher is a compiled set of regular expressions. A path matches when any
// expression matches it.
type Matcher struct {
	patterns []*regexp.Regexp
}

// NewMatcher compiles patterns. An empty set matches nothing.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match reports whether path matches any pattern.
func (m *Matcher) Match(path string) bool {
	if m == nil {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// MatchName matches only the base name of path. Used for the archivable
// plot naming rule, which is anchored on the file name.
func (m *Matcher) MatchName(path string) bool {
	return m.Match(filepath.Base(path))
}

// IsEvictionCandidate reports whether p may be deleted to reclaim space.
func (m *Matcher) IsEvictionCandidate(p Plot) bool {
	return m.Match(p.Path)
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

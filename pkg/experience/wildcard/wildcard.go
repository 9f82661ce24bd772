// Package wildcard filters object keys against glob allow-lists.
//
// Patterns use glob syntax: '*' matches any run of characters and '?' matches
// a single character. Matching is done on top-level keys only, so a pattern
// such as "nt_experiment*" selects the keys "nt_experiment" and
// "nt_experiment_name" without descending into their values.
package wildcard

import (
	"sort"

	"github.com/tidwall/match"
)

// All is the pattern that allows every key.
const All = "*"

// Matcher tests keys against a compiled set of patterns.
type Matcher struct {
	patterns []string
	exact    map[string]struct{}
	all      bool
}

// Compile prepares patterns for repeated matching.
// Patterns without glob characters are matched by map lookup.
func Compile(patterns []string) Matcher {
	m := Matcher{exact: make(map[string]struct{})}
	for _, p := range patterns {
		switch {
		case p == All:
			m.all = true
		case match.IsPattern(p):
			m.patterns = append(m.patterns, p)
		default:
			m.exact[p] = struct{}{}
		}
	}
	return m
}

// AllowsAll reports whether the matcher accepts every key.
func (m Matcher) AllowsAll() bool {
	return m.all
}

// Match reports whether key is matched by at least one pattern.
func (m Matcher) Match(key string) bool {
	if m.all {
		return true
	}
	if _, ok := m.exact[key]; ok {
		return true
	}
	for _, p := range m.patterns {
		if match.Match(key, p) {
			return true
		}
	}
	return false
}

// Pick returns the subset of obj whose keys match the matcher.
// When the matcher allows everything obj is returned as-is.
func (m Matcher) Pick(obj map[string]any) map[string]any {
	if m.all || obj == nil {
		return obj
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if m.Match(k) {
			out[k] = v
		}
	}
	return out
}

// Pick returns the subset of obj whose keys match at least one pattern.
//
// If patterns contains "*" the input is returned unchanged. Otherwise a new
// map is returned and obj is not modified.
//
// Example:
//
//	wildcard.Pick(map[string]any{"a": 1, "b": 2}, []string{"a"})
//	// map[a:1]
func Pick(obj map[string]any, patterns []string) map[string]any {
	return Compile(patterns).Pick(obj)
}

// Dropped lists the keys of before that are missing from after, sorted.
func Dropped(before, after map[string]any) []string {
	var dropped []string
	for k := range before {
		if _, ok := after[k]; !ok {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return dropped
}

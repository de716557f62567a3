// ABOUTME: Allow-list of Matrix user IDs permitted to run restricted commands
// ABOUTME: Entries are anchored regular expressions; changes live in memory only

package allowlist

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// List is a thread-safe set of sender patterns. An empty list allows nobody.
type List struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// New builds a list from patterns such as "@admin:example.org" or
// "@.*:example.org".
func New(patterns []string) (*List, error) {
	l := &List{patterns: make(map[string]*regexp.Regexp)}
	if _, err := l.Add(patterns...); err != nil {
		return nil, err
	}
	return l, nil
}

// Allowed reports whether userID fully matches any pattern.
func (l *List) Allowed(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, re := range l.patterns {
		if re.MatchString(userID) {
			return true
		}
	}
	return false
}

// Add inserts patterns and returns the ones that were new. Nothing is added
// if any pattern fails to compile.
func (l *List) Add(patterns ...string) ([]string, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list pattern %q: %w", p, err)
		}
		compiled[p] = re
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var added []string
	for _, p := range patterns {
		if _, exists := l.patterns[p]; exists {
			continue
		}
		l.patterns[p] = compiled[p]
		added = append(added, p)
	}
	return added, nil
}

// Remove deletes patterns and returns the ones that were present.
func (l *List) Remove(patterns ...string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []string
	for _, p := range patterns {
		if _, exists := l.patterns[p]; exists {
			delete(l.patterns, p)
			removed = append(removed, p)
		}
	}
	return removed
}

// Patterns returns the current patterns sorted.
func (l *List) Patterns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.patterns))
	for p := range l.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

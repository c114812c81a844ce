// Package moderation screens user text before it is stored.
package moderation

import (
	"regexp"
	"sort"
	"strings"
)

var defaultBlockedWords = []string{
	// English
	"fuck", "shit", "bitch", "asshole", "cunt", "dick", "pussy", "bastard", "whore",
	// Hindi (romanized)
	"bhenchod", "behenchod", "madarchod", "chutiya", "chutiye", "gaandu", "randi",
	"bhosdike", "bhosda", "chod", "lund", "lauda", "kutta", "kamina", "harami",
}

// DefaultBlockedWords returns a copy of the built-in list.
func DefaultBlockedWords() []string {
	return append([]string(nil), defaultBlockedWords...)
}

// Filter matches blocked words on word boundaries, ignoring case.
type Filter struct {
	pattern *regexp.Regexp
	words   []string
}

// NewFilter builds a filter over the default list plus extra words.
func NewFilter(extra []string) *Filter {
	seen := make(map[string]struct{})
	words := make([]string, 0, len(defaultBlockedWords)+len(extra))
	for _, w := range append(DefaultBlockedWords(), extra...) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	// Longest first so alternation prefers "behenchod" over "chod".
	sort.SliceStable(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })

	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return &Filter{
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
		words:   words,
	}
}

// Match reports the first blocked word found in text.
func (f *Filter) Match(text string) (string, bool) {
	found := f.pattern.FindString(text)
	if found == "" {
		return "", false
	}
	return strings.ToLower(found), true
}

// Contains reports whether any text holds a blocked word.
func (f *Filter) Contains(texts ...string) bool {
	for _, text := range texts {
		if _, ok := f.Match(text); ok {
			return true
		}
	}
	return false
}

// Words lists the active blocked words.
func (f *Filter) Words() []string {
	return append([]string(nil), f.words...)
}

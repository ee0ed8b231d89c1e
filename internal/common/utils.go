package common

import "strings"

// HasAny returns true if s contains any of the substrings. Matching is
// case-sensitive.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Normalize trims surrounding whitespace and collapses inner runs of
// whitespace to a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

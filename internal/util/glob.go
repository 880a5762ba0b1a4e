package util

import "strings"

// MatchGlob reports whether key matches pattern in full.
//
// The grammar is fixed: '*' matches any run of characters (including none),
// '?' matches exactly one character, and every other character matches itself.
// There are no character classes and no escapes, so keys containing regex or
// shell metacharacters such as '.', '[' or '\' are always compared literally.
//
// Example:
//
//	MatchGlob("blacklist:*", "blacklist:abc") // true
//	MatchGlob("user:?", "user:42")            // false
//	MatchGlob("a.c", "abc")                   // false
func MatchGlob(pattern, key string) bool {
	p := []rune(pattern)
	k := []rune(key)

	pi, ki := 0, 0
	// Position of the last '*' seen and the key index it was matched against,
	// used to backtrack when a literal run fails.
	star, mark := -1, 0

	for ki < len(k) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == k[ki]):
			pi++
			ki++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = ki
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ki = mark
		default:
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// EscapeRedisGlob rewrites a MatchGlob pattern into a Redis KEYS/SCAN pattern
// with identical semantics. Redis additionally treats '[', ']' and '\' as
// special, so they are escaped to keep the grammar limited to '*' and '?'.
func EscapeRedisGlob(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for _, r := range pattern {
		switch r {
		case '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

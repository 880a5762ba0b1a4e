package util

import "testing"

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"exact match", "signin", "signin", true},
		{"exact mismatch", "signin", "signup", false},
		{"star suffix", "blacklist:*", "blacklist:tok1", true},
		{"star matches empty", "blacklist:*", "blacklist:", true},
		{"star is anchored at start", "blacklist:*", "x-blacklist:tok1", false},
		{"star only", "*", "anything at all", true},
		{"star on empty key", "*", "", true},
		{"empty pattern on empty key", "", "", true},
		{"empty pattern on key", "", "a", false},
		{"question mark single char", "user:?", "user:1", true},
		{"question mark is exactly one", "user:?", "user:12", false},
		{"question mark needs a char", "user:?", "user:", false},
		{"star in the middle", "refresh:*:web", "refresh:u1:web", true},
		{"star in the middle mismatch", "refresh:*:web", "refresh:u1:ios", false},
		{"backtracking", "a*b*c", "aXbYbZc", true},
		{"backtracking failure", "a*b*c", "aXbYbZ", false},
		{"multiple stars", "**a**", "bab", true},
		{"dot is literal", "a.c", "abc", false},
		{"dot matches dot", "a.c", "a.c", true},
		{"brackets are literal", "[ab]", "a", false},
		{"brackets match brackets", "[ab]", "[ab]", true},
		{"backslash is literal", `a\*`, `a\bc`, true},
		{"regex anchors are literal", "^key$", "^key$", true},
		{"unicode question mark", "k?y", "k世y", true},
		{"anchored end", "sign", "signin", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchGlob(tt.pattern, tt.key); got != tt.want {
				t.Errorf("MatchGlob(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestEscapeRedisGlob(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"blacklist:*", "blacklist:*"},
		{"user:?", "user:?"},
		{"[ab]*", `\[ab\]*`},
		{`a\b`, `a\\b`},
		{"", ""},
	}

	for _, tt := range tests {
		if got := EscapeRedisGlob(tt.pattern); got != tt.want {
			t.Errorf("EscapeRedisGlob(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

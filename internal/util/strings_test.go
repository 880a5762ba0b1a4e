package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	const refresh = "Zm9vYmFyYmF6cXV4LXJlZnJlc2gtdG9rZW4"

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "token prefix", input: refresh, maxLen: 8, want: "Zm9vYmFy"},
		{name: "exact length", input: "blacklist", maxLen: 9, want: "blacklist"},
		{name: "shorter than limit", input: "u1", maxLen: 8, want: "u1"},
		{name: "empty", input: "", maxLen: 8, want: ""},
		{name: "zero limit", input: refresh, maxLen: 0, want: ""},
		{name: "negative limit", input: refresh, maxLen: -1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

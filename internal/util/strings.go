package util

// SafeTruncate returns at most the first maxLen bytes of s. Components log
// tokens through it so only a short prefix ever reaches the logs.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	switch {
	case maxLen < 0:
		return ""
	case len(s) <= maxLen:
		return s
	default:
		return s[:maxLen]
	}
}

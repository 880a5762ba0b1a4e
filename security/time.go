package security

import "time"

// DefaultClockSkewGracePeriod is the tolerance applied to token expiry checks
// so minor clock drift between client and server does not reject a token
// that is still valid on the issuer's clock.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpiredAt reports whether expiresAt has passed at now by more than grace.
// A zero expiresAt never expires.
func IsExpiredAt(now, expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(grace))
}

// IsExpiringSoon reports whether expiresAt falls within threshold of now
func IsExpiringSoon(now, expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Add(threshold).After(expiresAt)
}

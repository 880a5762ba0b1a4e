// Package security provides the security primitives of the session library:
// attempt rate limiting, CSRF tokens, audit logging and encryption of client
// state at rest.
//
// # Rate Limiting
//
// RateLimiter is a fixed-window counter stored in a storage.Store, so every
// instance sharing the store shares the budget. Each action key gets its own
// window: the first attempt arms the window's TTL and the attempt that
// exceeds the budget is still counted, so a caller hammering the limit does
// not reopen it early.
//
//	limiter := security.SigninLimit.NewLimiter(store, logger)
//	allowed, err := limiter.Allow(ctx, "signin:"+email)
//	if err != nil || !allowed {
//		return authsession.ErrRateLimitExceeded
//	}
//
// Presets: SignupLimit and SigninLimit allow 5 attempts per minute,
// ResetLimit allows 3 per five minutes.
//
// # CSRF Tokens
//
// CSRFManager keeps the session's CSRF token in client storage. Rotate clears
// the previous token before generating a new one; Validate compares in
// constant time.
//
// # Audit Logging
//
// Auditor writes security events through slog with user IDs hashed.
//
// # Encryption
//
// Encryptor seals values with AES-256-GCM. Seal binds the ciphertext to a
// label so a value copied under another storage key fails to open.
package security

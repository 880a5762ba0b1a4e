package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a session's access and refresh tokens are issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is replaced through a refresh
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when one device's tokens are revoked
	EventTokenRevoked = "token_revoked"

	// EventAllTokensRevoked is logged when all tokens for a user are revoked
	EventAllTokensRevoked = "all_tokens_revoked" //nolint:gosec // G101: event type name, not a credential

	// Security violation events

	// EventAuthFailure is logged when authentication fails (wrong credentials, bad token)
	EventAuthFailure = "auth_failure"

	// EventRevokedTokenUsed is logged when a blacklisted access token is presented
	EventRevokedTokenUsed = "revoked_token_used"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// Client session events

	// EventSessionExpired is logged when a failed refresh forces a logout
	EventSessionExpired = "session_expired"

	// EventLocalStateReset is logged when corrupted persisted state is discarded
	EventLocalStateReset = "local_state_reset"
)

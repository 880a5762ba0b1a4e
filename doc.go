// Package authsession manages the lifecycle of user sessions and tokens.
//
// This root package holds the error taxonomy shared by every component.
// The building blocks live in subpackages:
//
//   - storage: the ephemeral TTL key/value store (memory and Redis backends)
//   - tokens: refresh token registry and access token blacklist
//   - security: rate limiting, CSRF tokens, encryption and audit logging
//   - authority: server-side issuing, validation, refresh and revocation
//   - client: the client session manager and Auth API consumer
//   - clientstate: client-side durable storage
//   - config: YAML configuration and component factories
//
// Callers match failures with errors.Is against the sentinel errors, for
// example ErrRateLimitExceeded or ErrRefreshFailed.
package authsession

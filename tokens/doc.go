// Package tokens tracks server-side token state on top of a storage.Store.
//
// RefreshRegistry keeps, per user, the list of refresh tokens currently
// valid, one per signed-in device. The most recently appended token is the
// user's latest. Tokens leave the list only through DeleteRefreshToken or
// DeleteAllRefreshTokens.
//
// Blacklist records access tokens revoked before their natural expiry. Each
// entry lives for DefaultBlacklistTTL, which must be at least the access
// token lifetime so a revoked token can never validate again.
//
// Key layout:
//
//	refresh:<userID>    JSON array of refresh tokens, oldest first
//	blacklist:<token>   "1", expiring after the blacklist TTL
package tokens

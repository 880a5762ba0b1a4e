// Package storage defines the ephemeral key/value contract used for session and
// token lifecycle data.
//
// The Store interface is deliberately small and Redis-shaped: string values,
// per-key TTL, atomic increment, glob key enumeration and an atomic
// read-modify-write (Update). Higher level components are built on it:
//   - tokens.RefreshRegistry: per-user lists of active refresh tokens
//   - tokens.Blacklist: revoked access tokens with a bounded TTL
//   - security.RateLimiter: fixed-window attempt counters
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for single-instance deployments and tests
//   - storage/redis: Redis-compatible distributed storage (go-redis)
//   - storage/mock: Programmable mock for unit testing failure paths
//
// The store is a cache, not a database: nothing in it is expected to survive a
// restart.
package storage

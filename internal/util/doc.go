// Package util provides common utility functions used across the authsession library.
//
// This package contains helper functions for string manipulation and key pattern
// matching that don't fit into domain-specific packages. These utilities are used
// internally by the storage backends and the token components.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - MatchGlob: Anchored '*' / '?' key matching for Store.Keys
//   - EscapeRedisGlob: Translates MatchGlob patterns for Redis KEYS
package util

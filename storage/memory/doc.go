// Package memory provides an in-memory implementation of storage.Store.
//
// Entries live in a single map guarded by a sync.RWMutex. Incr and Update hold
// the write lock across their read-modify-write, so concurrent callers on the
// same key never lose updates.
//
// Expiry is lazy: an entry whose TTL has elapsed is treated as absent and
// removed the next time any operation touches it. Memory held by keys that
// are never read again is reclaimed only by Cleanup, which NewWithCleanup
// runs periodically.
//
// For multi-instance deployments use the storage/redis package instead.
//
// Example usage:
//
//	store := memory.NewWithCleanup(time.Minute)
//	defer store.Stop()
//
//	registry := tokens.NewRefreshRegistry(store)
//	blacklist := tokens.NewBlacklist(store)
package memory

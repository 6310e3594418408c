// Package cache provides a best-effort TTL cache with schema version tagging.
//
// The cache never participates in correctness: every error degrades to a miss
// on reads and a silent drop on writes. Entries are invalidated lazily, on
// read, when they outlive the caller's TTL or were written under a different
// schema version.
package cache

import "time"

// SchemaVersion tags every entry. Bump it whenever the cached representation
// of messages or conversations changes shape; old entries then read as absent.
const SchemaVersion = "3"

// Store is the contract shared by the in-memory and SQLite backends.
// Values are opaque pre-marshaled bytes; the cache knows nothing about chat.
type Store interface {
	// Set stores value under key, stamped with the current time and schema
	// version. When the store is full it evicts the oldest 20% of entries and
	// retries once; a write that still cannot fit is dropped silently.
	Set(key string, value []byte)

	// Get returns the value if present, version-matched, and younger than ttl.
	// Stale or incompatible entries are removed on the spot, so reads are
	// self-healing.
	Get(key string, ttl time.Duration) ([]byte, bool)

	// Age returns the elapsed time since the entry was stored, or false if
	// the key is absent. Callers use it to surface "data may be stale"
	// without forcing a refetch.
	Age(key string) (time.Duration, bool)

	// Remove deletes a single entry unconditionally.
	Remove(key string)

	// Clear deletes all entries unconditionally.
	Clear()

	// Len reports the number of stored entries, including not-yet-expired
	// stale ones.
	Len() int
}

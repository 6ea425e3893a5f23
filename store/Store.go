/*
Package store provides the key/value storage abstraction used by the
identity keystore.
*/
package store

import (
	"time"
)

// Store is the interface implemented by every storage backend used in this
// module. Expiration is opportunistic: ExpireKeys must be called
// periodically to reclaim expired entries, it is not automatic.
type Store interface {
	// Set stores the key/value pair without expiration.
	Set(key []byte, data []byte) error

	// StoreExpire stores the key/value pair and marks it for deletion after
	// the expiration time. If the key already exists it is overwritten and
	// the new expiration applies.
	StoreExpire(key []byte, data []byte, expiration time.Time) error

	// Get returns the value for the key if present. An expired entry is
	// still returned until ExpireKeys removes it.
	Get(key []byte) (data []byte, found bool)

	// Delete removes a key/value pair.
	Delete(key []byte)

	// ExpireKeys deletes all keys whose expiration time has passed.
	ExpireKeys()

	// Count returns the number of live records.
	Count() uint64

	// Close releases underlying resources.
	Close() error
}

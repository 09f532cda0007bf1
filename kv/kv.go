// Package kv is the typed key/value and cache layer backing sessions,
// manifests, the idempotency cache, usage counters, and job cancellation
// flags. It is intentionally small: Get/Set/Delete with TTL, plus glob
// pattern matching for bulk invalidation. Grounded on the pluggable-backend
// shape of blob/filesystem.go and blob/gcs/gcs_storage.go (same Storage
// contract, different backend), generalized here to a KV rather than blob
// interface.
package kv

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the KV/cache contract every higher component depends on. All
// methods are safe for concurrent use.
type Store interface {
	// Get decodes the value stored at key into dst (a pointer), returning
	// ok=false if the key does not exist or has expired.
	Get(ctx context.Context, key string, dst interface{}) (ok bool, err error)

	// Set stores value at key, JSON-encoding it. ttl of zero means no
	// expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// FindKeys returns every stored key matching glob (supporting `*` and
	// `?`).
	FindKeys(ctx context.Context, glob string) ([]string, error)

	// DeleteByPattern deletes every key matching glob, returning the count
	// removed.
	DeleteByPattern(ctx context.Context, glob string) (int, error)
}

func encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func decode(data []byte, dst interface{}) error {
	return json.Unmarshal(data, dst)
}

// Package store defines the key/value store used for OAuth state and
// rate-limit counters.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Store is a key/value store with per-key expiry. Implementations must be
// safe for concurrent use, and GetDelete/IncrWindow must be atomic per key:
// GetDelete enforces single-use consumption of OAuth state, and IncrWindow
// prevents the check-then-increment race on rate-limit counters.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetDelete atomically returns the value for key and removes it, or
	// returns ErrNotFound. A second call for the same key always fails.
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrWindow atomically increments the counter for key inside a fixed
	// window. The first increment of a window starts it and sets its expiry.
	// It returns the counter value after the increment and the time left
	// until the window resets.
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)

	// Close releases any resources held by the store.
	Close() error
}

// Package kv is the key-value abstraction behind server-side sessions.
// Redis is used when configured; otherwise an in-process map.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist (or has expired).
var ErrNotFound = errors.New("kv: key not found")

// Store is a minimal TTL-aware key-value store.
type Store interface {
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns ErrNotFound for a missing or expired key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

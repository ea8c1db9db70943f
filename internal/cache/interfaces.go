package cache

import (
	"context"
	"errors"
	"time"
)

// NoExpiration stores a value until it is deleted or overwritten.
const NoExpiration time.Duration = 0

// Store is the key/value store backing derived views.
// Values are opaque bytes; a ttl of NoExpiration keeps the entry until it is
// explicitly deleted. Any failure of the backing store is reported as an error
// wrapping ErrCacheUnavailable so callers can degrade to a miss.
type Store interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value, replacing any previous value and expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Reports whether a live entry was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a live entry is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Keys lists live keys matching a glob pattern ("*" wildcard).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Expire sets a new ttl on an existing key. Reports false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// Sizer is implemented by stores that can count their entries cheaply.
type Sizer interface {
	Len() int
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"

	// ErrCacheUnavailable indicates the backing store could not be reached.
	ErrCacheUnavailable CacheError = "cache unavailable"
)

// unavailable wraps a backend error so errors.Is(err, ErrCacheUnavailable) holds.
func unavailable(op string, err error) error {
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string {
	return "cache " + e.op + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error {
	return []error{ErrCacheUnavailable, e.err}
}

// IsUnavailable reports whether err came from an unreachable cache.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCacheUnavailable)
}

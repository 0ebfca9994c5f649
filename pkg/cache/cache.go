package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired
var ErrNotFound = errors.New("key not found")

// ErrWrongType is returned when a list operation targets a string key or vice versa
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// Backend is the key-value store holding ephemeral results and in-flight flags.
// Keys are flat strings; Keys accepts glob patterns ("task:abc:*").
type Backend interface {
	// Get returns a string value or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set stores a string value; ttl <= 0 means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes keys and returns how many existed
	Del(ctx context.Context, keys ...string) (int, error)

	// RPush appends to a list and, when ttl > 0, refreshes its expiry in the same step
	RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error

	// LRange returns the full list, or an empty slice when the key is absent
	LRange(ctx context.Context, key string) ([]string, error)

	// Keys returns all live keys matching pattern
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}

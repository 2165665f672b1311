package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// ErrUnavailable marks failures of the store itself, as opposed to
// application outcomes like a missing key.
var ErrUnavailable = errors.New("store unavailable")

// Store is the shared key-value capability the service runs on. Each method
// must be atomic on its own; callers compose them without transactions.
type Store interface {
	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key and clears any expiry on it.
	Set(ctx context.Context, key string, value []byte) error
	// Incr adds one to the integer under key and returns the new value.
	// An absent or expired key counts as zero.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the time to live of key. It does nothing when key is absent;
	// a non-positive ttl deletes the key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// Sweeper is implemented by stores that need expired keys purged by a janitor.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// UnavailableError records a failed store operation.
type UnavailableError struct {
	Op  string
	Key string
	Err error
}

// Unavailable wraps err as a store failure of op on key.
func Unavailable(op, key string, err error) error {
	return &UnavailableError{Op: op, Key: key, Err: err}
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both ErrUnavailable and the underlying cause.
func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// TTLSeconds rounds ttl up to whole seconds, the resolution of backends with
// native expiry. Non-positive values yield 0.
func TTLSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64((ttl + time.Second - 1) / time.Second)
}

// Package throttle limits how many reads and writes one client address may
// issue per fixed time window.
//
// Counters live in the shared store under "g:<addr>" (reads) and
// "p:<addr>" (writes). A check is GET, then INCR, then EXPIRE when the key
// was absent. The three commands are not one transaction: two requests
// from the same address racing on the same GET result can both pass, so a
// window may admit limit+1 operations. The window starts at the first
// operation and resets wholesale when the key expires.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pbserver/internal/storage"
)

// ErrExceeded is returned when a client has used up its quota for the window.
var ErrExceeded = errors.New("throttle limit exceeded")

// Class is the kind of operation being counted.
type Class int

const (
	Read Class = iota
	Write
)

func (c Class) String() string {
	switch c {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return "class(" + strconv.Itoa(int(c)) + ")"
}

func (c Class) prefix() string {
	if c == Write {
		return "p"
	}
	return "g"
}

// Key returns the counter key for addr in class c.
func (c Class) Key(addr uint32) string {
	return c.prefix() + ":" + strconv.FormatUint(uint64(addr), 10)
}

// Limits holds the per-window quotas.
type Limits struct {
	Read   int64
	Write  int64
	Window time.Duration
}

func (l Limits) quota(c Class) int64 {
	if c == Write {
		return l.Write
	}
	return l.Read
}

// Limiter enforces Limits against counters in a storage.Store.
type Limiter struct {
	store  storage.Store
	limits Limits
}

// New returns a Limiter using store.
func New(store storage.Store, limits Limits) *Limiter {
	return &Limiter{store: store, limits: limits}
}

// Limits returns the configured quotas.
func (l *Limiter) Limits() Limits {
	return l.limits
}

// Allow counts one operation of class c from addr. It returns ErrExceeded
// when the quota is used up, leaving the counter untouched, and an error
// matching storage.ErrUnavailable when the store fails.
func (l *Limiter) Allow(ctx context.Context, c Class, addr uint32) error {
	key := c.Key(addr)

	current, absent, err := l.count(ctx, key)
	if err != nil {
		return err
	}
	if limit := l.limits.quota(c); current >= limit {
		return fmt.Errorf("%w: %s quota of %d per %s", ErrExceeded, c, limit, l.limits.Window)
	}

	if _, err := l.store.Incr(ctx, key); err != nil {
		return storage.Unavailable("incr", key, err)
	}
	if absent {
		if err := l.store.Expire(ctx, key, l.limits.Window); err != nil {
			return storage.Unavailable("expire", key, err)
		}
	}
	return nil
}

func (l *Limiter) count(ctx context.Context, key string) (n int64, absent bool, err error) {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, storage.Unavailable("get", key, err)
	}
	n, err = strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, storage.Unavailable("get", key, fmt.Errorf("counter is not an integer: %q", raw))
	}
	return n, false, nil
}

// Package storagetest holds the behaviour every storage.Store backend must share.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pbserver/internal/storage"
)

// Harness is a store under test. Advance moves the store's clock forward
// and Now reads it; when they are nil the suite runs on wall time.
type Harness struct {
	Store   storage.Store
	Advance func(time.Duration)
	Now     func() time.Time
}

func (h Harness) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Harness) pass(d time.Duration) {
	if h.Advance != nil {
		h.Advance(d)
		return
	}
	time.Sleep(d)
}

func uniqueKey(t *testing.T, name string) string {
	return fmt.Sprintf("storagetest:%s:%s:%d", t.Name(), name, time.Now().UnixNano())
}

// Run exercises the storage.Store contract against stores built by newHarness.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.Store.Get(ctx, uniqueKey(t, "missing")); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		h := newHarness(t)
		key := uniqueKey(t, "blob")
		body := []byte{0, 1, 2, 'h', 'i', 0xff, '\r', '\n'}
		if err := h.Store.Set(ctx, key, body); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := h.Store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("expected %q got %q", body, got)
		}
		if err := h.Store.Set(ctx, key, []byte("second")); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		got, err = h.Store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get after overwrite: %v", err)
		}
		if string(got) != "second" {
			t.Fatalf("expected overwrite, got %q", got)
		}
	})

	t.Run("Incr", func(t *testing.T) {
		h := newHarness(t)
		key := uniqueKey(t, "counter")
		for want := int64(1); want <= 3; want++ {
			got, err := h.Store.Incr(ctx, key)
			if err != nil {
				t.Fatalf("incr: %v", err)
			}
			if got != want {
				t.Fatalf("expected %d got %d", want, got)
			}
		}
		raw, err := h.Store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get counter: %v", err)
		}
		if string(raw) != "3" {
			t.Fatalf("expected counter to read back as \"3\", got %q", raw)
		}
	})

	t.Run("ExpireMissingKey", func(t *testing.T) {
		h := newHarness(t)
		key := uniqueKey(t, "ghost")
		if err := h.Store.Expire(ctx, key, time.Minute); err != nil {
			t.Fatalf("expire: %v", err)
		}
		if _, err := h.Store.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expire must not create keys, got %v", err)
		}
	})

	t.Run("ExpiredValueDisappears", func(t *testing.T) {
		h := newHarness(t)
		key := uniqueKey(t, "short")
		if err := h.Store.Set(ctx, key, []byte("soon gone")); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := h.Store.Expire(ctx, key, time.Second); err != nil {
			t.Fatalf("expire: %v", err)
		}
		if _, err := h.Store.Get(ctx, key); err != nil {
			t.Fatalf("expected value before expiry: %v", err)
		}
		h.pass(2 * time.Second)
		if _, err := h.Store.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after expiry, got %v", err)
		}
	})

	t.Run("ExpiredCounterRestarts", func(t *testing.T) {
		h := newHarness(t)
		key := uniqueKey(t, "window")
		for i := 0; i < 2; i++ {
			if _, err := h.Store.Incr(ctx, key); err != nil {
				t.Fatalf("incr: %v", err)
			}
		}
		if err := h.Store.Expire(ctx, key, time.Second); err != nil {
			t.Fatalf("expire: %v", err)
		}
		h.pass(2 * time.Second)
		n, err := h.Store.Incr(ctx, key)
		if err != nil {
			t.Fatalf("incr after expiry: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected counter to restart at 1, got %d", n)
		}
	})

	t.Run("SetClearsExpiry", func(t *testing.T) {
		h := newHarness(t)
		key := uniqueKey(t, "persist")
		if err := h.Store.Set(ctx, key, []byte("a")); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := h.Store.Expire(ctx, key, time.Second); err != nil {
			t.Fatalf("expire: %v", err)
		}
		if err := h.Store.Set(ctx, key, []byte("b")); err != nil {
			t.Fatalf("reset: %v", err)
		}
		h.pass(2 * time.Second)
		got, err := h.Store.Get(ctx, key)
		if err != nil {
			t.Fatalf("expected key to outlive its old expiry: %v", err)
		}
		if string(got) != "b" {
			t.Fatalf("expected %q got %q", "b", got)
		}
	})

	t.Run("NonPositiveTTLDeletes", func(t *testing.T) {
		h := newHarness(t)
		key := uniqueKey(t, "drop")
		if err := h.Store.Set(ctx, key, []byte("x")); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := h.Store.Expire(ctx, key, 0); err != nil {
			t.Fatalf("expire: %v", err)
		}
		if _, err := h.Store.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected key removed, got %v", err)
		}
	})

	t.Run("Sweep", func(t *testing.T) {
		h := newHarness(t)
		sw, ok := h.Store.(storage.Sweeper)
		if !ok {
			t.Skip("store expires keys natively")
		}
		dead := uniqueKey(t, "dead")
		alive := uniqueKey(t, "alive")
		for _, k := range []string{dead, alive} {
			if err := h.Store.Set(ctx, k, []byte(k)); err != nil {
				t.Fatalf("set %s: %v", k, err)
			}
		}
		if err := h.Store.Expire(ctx, dead, time.Second); err != nil {
			t.Fatalf("expire dead: %v", err)
		}
		if err := h.Store.Expire(ctx, alive, time.Hour); err != nil {
			t.Fatalf("expire alive: %v", err)
		}
		h.pass(2 * time.Second)
		removed, err := sw.DeleteExpired(ctx, h.now())
		if err != nil {
			t.Fatalf("delete expired: %v", err)
		}
		if removed != 1 {
			t.Fatalf("expected 1 removal, got %d", removed)
		}
		if _, err := h.Store.Get(ctx, alive); err != nil {
			t.Fatalf("expected live key to survive sweep: %v", err)
		}
	})
}

// Clock is a manually advanced time source for stores that accept one.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a Clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current instant of the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

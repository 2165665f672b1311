package storage

import (
	"context"
	"time"
)

// WithTimeout bounds every operation on s by d. A non-positive d returns s
// unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{store: s, timeout: d}
}

type timeoutStore struct {
	store   Store
	timeout time.Duration
}

func (t *timeoutStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.Get(ctx, key)
}

func (t *timeoutStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.Set(ctx, key, value)
}

func (t *timeoutStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.Incr(ctx, key)
}

func (t *timeoutStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.Expire(ctx, key, ttl)
}

func (t *timeoutStore) Close() error {
	return t.store.Close()
}

package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

type blockingStore struct{}

func (blockingStore) Get(ctx context.Context, key string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingStore) Set(ctx context.Context, key string, value []byte) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingStore) Incr(ctx context.Context, key string) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
func (blockingStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingStore) Close() error { return nil }

func TestWithTimeout(t *testing.T) {
	s := WithTimeout(blockingStore{}, 10*time.Millisecond)
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("get: expected deadline, got %v", err)
	}
	if err := s.Set(ctx, "k", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("set: expected deadline, got %v", err)
	}
	if _, err := s.Incr(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("incr: expected deadline, got %v", err)
	}
	if err := s.Expire(ctx, "k", time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expire: expected deadline, got %v", err)
	}
}

func TestWithTimeoutDisabled(t *testing.T) {
	var base Store = blockingStore{}
	if WithTimeout(base, 0) != base {
		t.Fatalf("expected store to be returned unchanged")
	}
}

func TestUnavailableError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := Unavailable("incr", "n", cause)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected both sentinel and cause, got %v", err)
	}
	if err.Error() != "store incr n: broken pipe" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTTLSeconds(t *testing.T) {
	cases := map[time.Duration]int64{
		0:                       0,
		-time.Second:            0,
		time.Millisecond:        1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		time.Hour:               3600,
	}
	for in, want := range cases {
		if got := TTLSeconds(in); got != want {
			t.Fatalf("TTLSeconds(%s) = %d, want %d", in, got, want)
		}
	}
}

package httpserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"pbserver/internal/metrics"
	"pbserver/internal/storage/memstore"
	"pbserver/internal/storage/storagetest"
)

func TestCleanOnce(t *testing.T) {
	clock := storagetest.NewClock()
	store := memstore.New(memstore.WithClock(clock.Now))
	ctx := context.Background()

	for _, key := range []string{"n:1", "n:2", "keep"} {
		if err := store.Set(ctx, key, []byte("v")); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	for _, key := range []string{"n:1", "n:2"} {
		if err := store.Expire(ctx, key, time.Second); err != nil {
			t.Fatalf("expire: %v", err)
		}
	}
	clock.Advance(2 * time.Second)

	recorder := metrics.NewPrometheus()
	if removed := cleanOnce(ctx, store, testLogger(), recorder, clock.Now()); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", store.Len())
	}
	families, err := recorder.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "pbserver_expired_keys_swept_total" {
			found = mf.GetMetric()[0].GetCounter().GetValue() == 2
		}
	}
	if !found {
		t.Fatalf("expected swept counter of 2")
	}
}

type brokenSweeper struct{}

func (brokenSweeper) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("database is locked")
}

func TestCleanOnceError(t *testing.T) {
	if removed := cleanOnce(context.Background(), brokenSweeper{}, testLogger(), metrics.Noop{}, time.Now()); removed != 0 {
		t.Fatalf("expected 0 on error, got %d", removed)
	}
}

func TestStartJanitorSweeps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memstore.New()
	if err := store.Set(ctx, "n:1", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Expire(ctx, "n:1", time.Millisecond); err != nil {
		t.Fatalf("expire: %v", err)
	}

	StartJanitor(ctx, store, 5*time.Millisecond, testLogger(), nil)
	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep the expired key")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

//go:build sqlite

package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"pbserver/internal/storage/storagetest"
)

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Harness {
		clock := storagetest.NewClock()
		store, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), WithClock(clock.Now))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return storagetest.Harness{Store: store, Advance: clock.Advance, Now: clock.Now}
	})
}

func TestIncrRejectsText(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "text.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	if err := store.Set(ctx, "k", []byte("hello")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := store.Incr(ctx, "k"); err == nil {
		t.Fatalf("expected error incrementing text value")
	}
}

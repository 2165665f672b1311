package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"pbserver/internal/storage/storagetest"
)

func TestDocumentExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	cases := []struct {
		name string
		doc  document
		want bool
	}{
		{"no expiry", document{Key: "a"}, false},
		{"past", document{Key: "a", ExpiresAt: &past}, true},
		{"exact", document{Key: "a", ExpiresAt: &now}, true},
		{"future", document{Key: "a", ExpiresAt: &future}, false},
	}
	for _, tc := range cases {
		if got := tc.doc.expired(now); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

// TestContract runs against a live server when PBSERVER_TEST_MONGODB_URI is set.
func TestContract(t *testing.T) {
	uri := os.Getenv("PBSERVER_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("Skipping integration test: MongoDB URI not configured")
	}
	collection := fmt.Sprintf("kv_test_%d", time.Now().UnixNano())
	storagetest.Run(t, func(t *testing.T) storagetest.Harness {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := Open(ctx, uri, "pbserver_test", collection, 5*time.Second)
		if err != nil {
			t.Skipf("Skipping integration test: MongoDB not available (%v)", err)
		}
		t.Cleanup(func() {
			_ = store.collection.Drop(context.Background())
			store.Close()
		})
		return storagetest.Harness{Store: store}
	})
}

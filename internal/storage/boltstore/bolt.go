package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"pbserver/internal/storage"
)

var (
	valueBucket  = []byte("values")
	expiryBucket = []byte("expiry")
	indexBucket  = []byte("expiry_index")
)

// Store implements storage.Store backed by BoltDB. Every operation runs in its
// own transaction, so each one is atomic.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{valueBucket, expiryBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type buckets struct {
	values *bolt.Bucket
	expiry *bolt.Bucket
	index  *bolt.Bucket
}

func open(tx *bolt.Tx) (buckets, error) {
	b := buckets{
		values: tx.Bucket(valueBucket),
		expiry: tx.Bucket(expiryBucket),
		index:  tx.Bucket(indexBucket),
	}
	if b.values == nil || b.expiry == nil || b.index == nil {
		return b, errors.New("buckets not initialized")
	}
	return b, nil
}

// live reports whether key exists and has not expired at now.
func (b buckets) live(key []byte, now time.Time) bool {
	if b.values.Get(key) == nil {
		return false
	}
	raw := b.expiry.Get(key)
	if raw == nil {
		return true
	}
	return binary.BigEndian.Uint64(raw) > toTimestamp(now)
}

// clearExpiry removes the expiry of key and its index entry. Only valid in
// writable transactions.
func (b buckets) clearExpiry(key []byte) error {
	raw := b.expiry.Get(key)
	if raw == nil {
		return nil
	}
	if err := b.index.Delete(indexKey(binary.BigEndian.Uint64(raw), key)); err != nil {
		return fmt.Errorf("remove expiry index: %w", err)
	}
	return b.expiry.Delete(key)
}

func (b buckets) remove(key []byte) error {
	if err := b.clearExpiry(key); err != nil {
		return err
	}
	return b.values.Delete(key)
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out []byte
	now := s.now()
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := open(tx)
		if err != nil {
			return err
		}
		k := []byte(key)
		if !b.live(k, now) {
			return storage.ErrNotFound
		}
		out = bytes.Clone(b.values.Get(k)[1:])
		return nil
	})
	return out, err
}

// Set stores value under key without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := open(tx)
		if err != nil {
			return err
		}
		k := []byte(key)
		if err := b.clearExpiry(k); err != nil {
			return err
		}
		if err := b.values.Put(k, encodeValue(value)); err != nil {
			return fmt.Errorf("save value: %w", err)
		}
		return nil
	})
}

// Incr increments the counter under key.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var n int64
	now := s.now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := open(tx)
		if err != nil {
			return err
		}
		k := []byte(key)
		if b.live(k, now) {
			n, err = strconv.ParseInt(string(b.values.Get(k)[1:]), 10, 64)
			if err != nil {
				return fmt.Errorf("incr %s: value is not an integer", key)
			}
		} else if err := b.remove(k); err != nil {
			return err
		}
		n++
		if err := b.values.Put(k, strconv.AppendInt([]byte{valueTag}, n, 10)); err != nil {
			return fmt.Errorf("save counter: %w", err)
		}
		return nil
	})
	return n, err
}

// Expire sets the time to live of key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	now := s.now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := open(tx)
		if err != nil {
			return err
		}
		k := []byte(key)
		if !b.live(k, now) {
			return nil
		}
		if ttl <= 0 {
			return b.remove(k)
		}
		if err := b.clearExpiry(k); err != nil {
			return err
		}
		ts := toTimestamp(now.Add(ttl))
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], ts)
		if err := b.expiry.Put(k, raw[:]); err != nil {
			return fmt.Errorf("save expiry: %w", err)
		}
		if err := b.index.Put(indexKey(ts, k), k); err != nil {
			return fmt.Errorf("index expiry: %w", err)
		}
		return nil
	})
}

// DeleteExpired removes all keys with expiry before or equal to the provided time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := open(tx)
		if err != nil {
			return err
		}

		// Collect first: deleting under a live cursor skips entries.
		var due [][2][]byte
		cursor := b.index.Cursor()
		cutoff := toTimestamp(before)
		for ik, k := cursor.First(); ik != nil; ik, k = cursor.Next() {
			if binary.BigEndian.Uint64(ik[:8]) > cutoff {
				break
			}
			due = append(due, [2][]byte{bytes.Clone(ik), bytes.Clone(k)})
		}
		for _, d := range due {
			if err := b.values.Delete(d[1]); err != nil {
				return fmt.Errorf("delete expired key %s: %w", d[1], err)
			}
			if err := b.expiry.Delete(d[1]); err != nil {
				return fmt.Errorf("delete expiry: %w", err)
			}
			if err := b.index.Delete(d[0]); err != nil {
				return fmt.Errorf("delete expiry index: %w", err)
			}
			removed++
		}
		return nil
	})

	return removed, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Values carry a one byte tag so empty payloads stay distinguishable from
// missing keys.
const valueTag = 'v'

func encodeValue(value []byte) []byte {
	out := make([]byte, 1+len(value))
	out[0] = valueTag
	copy(out[1:], value)
	return out
}

func indexKey(ts uint64, key []byte) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out, ts)
	copy(out[8:], key)
	return out
}

func toTimestamp(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UTC().UnixNano())
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Sweeper = (*Store)(nil)
)

// Package paste writes and reads pastes in the shared store.
//
// A write takes the next value of the global sequence counter "n", adds the
// client address and the body length, and stores the body under "n:<id>".
// The sum is not unique: two writes that land on the same seq+addr+len
// overwrite each other. Callers see the id only in its base62 form.
package paste

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pbserver/internal/id"
	"pbserver/internal/storage"
	"pbserver/internal/throttle"
)

const seqKey = "n"

// seqLifetime is how many paste lifetimes the sequence counter outlives
// the first write that created it.
const seqLifetime = 10

var (
	// ErrNotFound is returned for ids that were never written, have expired,
	// or do not decode.
	ErrNotFound = errors.New("paste not found")
	// ErrTooLarge is matched by every *TooLargeError.
	ErrTooLarge = errors.New("paste too large")
)

// TooLargeError reports a body over the configured maximum.
type TooLargeError struct {
	Size int64
	Max  int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("text too large (%d bytes, max %d)", e.Size, e.Max)
}

func (e *TooLargeError) Is(target error) bool {
	return target == ErrTooLarge
}

// Limiter is the part of throttle.Limiter the service needs.
type Limiter interface {
	Allow(ctx context.Context, c throttle.Class, addr uint32) error
}

// Config controls paste size and lifetime.
type Config struct {
	MaxBodySize int64
	Expiry      time.Duration
}

// Service implements the write and read lifecycle.
type Service struct {
	store   storage.Store
	limiter Limiter
	cfg     Config
}

// New returns a Service. Zero Config fields fall back to 64 KiB and one day.
func New(store storage.Store, limiter Limiter, cfg Config) *Service {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 64 << 10
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}
	return &Service{store: store, limiter: limiter, cfg: cfg}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Key returns the store key holding paste n.
func Key(n uint64) string {
	return seqKey + ":" + strconv.FormatUint(n, 10)
}

// Put stores body for the client at addr and returns its encoded id.
// Oversized bodies are rejected before the write quota is charged.
// Mutations made before a store failure are not undone.
func (s *Service) Put(ctx context.Context, addr uint32, body []byte) (string, error) {
	size := int64(len(body))
	if size > s.cfg.MaxBodySize {
		return "", &TooLargeError{Size: size, Max: s.cfg.MaxBodySize}
	}
	if err := s.limiter.Allow(ctx, throttle.Write, addr); err != nil {
		return "", err
	}

	seq, err := s.store.Incr(ctx, seqKey)
	if err != nil {
		return "", storage.Unavailable("incr", seqKey, err)
	}
	if seq == 1 {
		if err := s.store.Expire(ctx, seqKey, seqLifetime*s.cfg.Expiry); err != nil {
			return "", storage.Unavailable("expire", seqKey, err)
		}
	}

	n := uint64(seq) + uint64(addr) + uint64(size)
	key := Key(n)
	if err := s.store.Set(ctx, key, body); err != nil {
		return "", storage.Unavailable("set", key, err)
	}
	if err := s.store.Expire(ctx, key, s.cfg.Expiry); err != nil {
		return "", storage.Unavailable("expire", key, err)
	}
	return id.Encode(n), nil
}

// Get returns the body stored under encoded for the client at addr.
// An id that does not decode is reported as ErrNotFound without charging
// the read quota.
func (s *Service) Get(ctx context.Context, addr uint32, encoded string) ([]byte, error) {
	n, err := id.Decode(encoded)
	if err != nil {
		return nil, ErrNotFound
	}
	if err := s.limiter.Allow(ctx, throttle.Read, addr); err != nil {
		return nil, err
	}
	key := Key(n)
	body, err := s.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("get", key, err)
	}
	return body, nil
}

package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrLockTimeout is returned when a lock stays held past the wait budget.
var ErrLockTimeout = errors.New("cache: lock wait timeout")

// NullCacheValue marks a key whose row is known to be absent.
const NullCacheValue = "$NULL$"

const (
	defaultRedeleteDelay = 500 * time.Millisecond
	redeleteTimeout      = time.Second
)

// ReadThrough loads JSON documents cache-aside. Concurrent misses on one key
// share a single fetch, and absent rows are remembered for EmptyTTL so
// lookups of unknown ids do not reach the database every time.
type ReadThrough[T any] struct {
	Cache    BasicOperations
	TTL      time.Duration
	EmptyTTL time.Duration
	// RedeleteDelay is how long after a write the key is dropped a second
	// time. Zero means 500ms; negative disables the second delete.
	RedeleteDelay time.Duration

	group singleflight.Group
	// writes counts committed writes; a fetch that overlaps one is not cached.
	writes atomic.Uint64
}

type loaded[T any] struct {
	value T
	found bool
}

// Load returns the cached value for key, or calls fetch and caches what it
// reports. fetch returns found=false for a missing row; that is not an error.
func (r *ReadThrough[T]) Load(ctx context.Context, key string, fetch func(context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	if r.Cache == nil {
		return fetch(ctx)
	}
	if raw, err := r.Cache.Get(ctx, key); err == nil && raw != "" {
		if raw == NullCacheValue {
			return zero, false, nil
		}
		var v T
		if json.Unmarshal([]byte(raw), &v) == nil {
			return v, true, nil
		}
	}

	res, err, _ := r.group.Do(key, func() (any, error) {
		epoch := r.writes.Load()
		v, found, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if r.writes.Load() != epoch {
			return loaded[T]{value: v, found: found}, nil
		}
		if !found {
			_ = r.Cache.Set(ctx, key, NullCacheValue, JitterTTL(r.EmptyTTL))
			return loaded[T]{}, nil
		}
		if payload, err := json.Marshal(v); err == nil {
			_ = r.Cache.Set(ctx, key, string(payload), JitterTTL(r.TTL))
		}
		return loaded[T]{value: v, found: true}, nil
	})
	if err != nil {
		return zero, false, err
	}
	l := res.(loaded[T])
	return l.value, l.found, nil
}

// Write runs write and then drops key, so the next Load sees the new row.
// The key is dropped again after RedeleteDelay, which clears a copy that a
// reader in another process fetched before the write and stored after it.
// The key is kept when write fails.
func (r *ReadThrough[T]) Write(ctx context.Context, key string, write func(context.Context) error) error {
	if err := write(ctx); err != nil {
		return err
	}
	r.writes.Add(1)
	if r.Cache == nil {
		return nil
	}
	_ = r.Cache.Del(ctx, key)
	r.redelete(ctx, key)
	return nil
}

func (r *ReadThrough[T]) redelete(ctx context.Context, key string) {
	delay := r.RedeleteDelay
	if delay < 0 {
		return
	}
	if delay == 0 {
		delay = defaultRedeleteDelay
	}
	base := context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(base, redeleteTimeout)
		defer cancel()
		_ = r.Cache.Del(ctx, key)
	})
}

// Forget drops key without touching the source.
func (r *ReadThrough[T]) Forget(ctx context.Context, key string) error {
	if r.Cache == nil {
		return nil
	}
	return r.Cache.Del(ctx, key)
}

// LockWithRetry polls TryLock until it succeeds, ctx ends or wait elapses.
func LockWithRetry(ctx context.Context, c LockOperations, key string, ttl, wait, interval time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	for {
		token, ok, err := c.TryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// JitterTTL shortens ttl by up to 10% so hot keys do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(spread+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}

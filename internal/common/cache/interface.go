package cache

import (
	"context"
	"time"
)

// Cache is the subset of redis operations the pipeline relies on.
type Cache interface {
	BasicOperations
	CounterOperations
	ZSetOperations
	LockOperations

	Ping(ctx context.Context) error
	Close() error
}

// BasicOperations defines string key operations.
type BasicOperations interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// CounterOperations defines windowed counters.
type CounterOperations interface {
	// IncrWindow bumps key and starts its expiry on the first hit, so the
	// count resets window after the first increment.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// ZSetOperations defines sorted set operations.
type ZSetOperations interface {
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
	// ReplaceZSet swaps the whole set atomically.
	ReplaceZSet(ctx context.Context, key string, members []ZMember, ttl time.Duration) error
}

// LockOperations defines owner-scoped distributed locks.
// Unlock only deletes the key while token still owns it.
type LockOperations interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// ZMember represents a member of a sorted set.
type ZMember struct {
	Score  float64
	Member string
}

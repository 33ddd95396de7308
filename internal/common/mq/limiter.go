package mq

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// TokenLimiter caps in-flight messages of one subscription.
type TokenLimiter struct {
	sem *semaphore.Weighted
}

// NewTokenLimiter allows size concurrent holders; size below one means one.
func NewTokenLimiter(size int) *TokenLimiter {
	return &TokenLimiter{sem: semaphore.NewWeighted(int64(max(size, 1)))}
}

// Acquire blocks until a slot frees up or ctx ends.
func (l *TokenLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a slot taken by a successful Acquire.
func (l *TokenLimiter) Release() {
	l.sem.Release(1)
}

var _ FetchLimiter = (*TokenLimiter)(nil)

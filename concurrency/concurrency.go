// ABOUTME: Capacity limiters for the swarm's two-level concurrency model.
// ABOUTME: GlobalLimiter bounds in-flight LLM calls across a whole swarm; LocalLimiter bounds one agent's parallel tool calls.

package concurrency

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// GlobalLimiter bounds concurrent in-flight LLM/delegation calls across an
// entire swarm tree, shared by every agent and every delegation target it
// reaches (5. Concurrency & Resource Model: "Global capacity limiter").
type GlobalLimiter struct {
	sem *semaphore.Weighted
}

// NewGlobalLimiter returns a GlobalLimiter admitting at most max concurrent
// holders. A non-positive max is treated as unlimited.
func NewGlobalLimiter(max int64) *GlobalLimiter {
	if max <= 0 {
		max = 1<<63 - 1
	}
	return &GlobalLimiter{sem: semaphore.NewWeighted(max)}
}

// Acquire blocks until capacity is available or ctx is done.
func (l *GlobalLimiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring global capacity: %w", err)
	}
	return nil
}

// Release returns one unit of capacity.
func (l *GlobalLimiter) Release() {
	l.sem.Release(1)
}

// LocalLimiter bounds how many of one agent's own tool calls run
// concurrently within a single turn (5. Concurrency & Resource Model:
// "Local capacity limiter", default 10). A nil *LocalLimiter is a valid,
// unlimited limiter — Acquire/Release are no-ops.
type LocalLimiter struct {
	sem *semaphore.Weighted
}

// NewLocalLimiter returns a LocalLimiter admitting at most max concurrent
// holders, or nil (unlimited) when max is non-positive.
func NewLocalLimiter(max int) *LocalLimiter {
	if max <= 0 {
		return nil
	}
	return &LocalLimiter{sem: semaphore.NewWeighted(int64(max))}
}

// Acquire blocks until capacity is available or ctx is done. Safe to call on
// a nil *LocalLimiter, in which case it always succeeds immediately.
func (l *LocalLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.sem.Acquire(ctx, 1)
}

// Release returns one unit of capacity. Safe to call on a nil *LocalLimiter.
func (l *LocalLimiter) Release() {
	if l == nil {
		return
	}
	l.sem.Release(1)
}

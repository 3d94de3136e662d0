// SPDX-License-Identifier: MIT

package ingest

import (
	"context"
	"sync"
	"time"
)

// backoff implements exponential backoff for upstream-reopen attempts: a
// Source Reader whose upstream handle died fatally gets a bounded number
// of reconnect attempts, each waiting longer than the last, before it gives
// up and closes its Ring for good.
type backoff struct {
	mu                  sync.Mutex
	initialDelay        time.Duration
	maxDelay            time.Duration
	maxAttempts         int
	currentDelay        time.Duration
	attempts            int
	consecutiveFailures int
}

func newBackoff(initialDelay, maxDelay time.Duration, maxAttempts int) *backoff {
	return &backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		maxAttempts:  maxAttempts,
		currentDelay: initialDelay,
	}
}

// recordFailure doubles the current delay, capped at maxDelay, and counts
// the attempt. No-op on a nil receiver.
func (b *backoff) recordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	b.consecutiveFailures++
	b.currentDelay *= 2
	if b.currentDelay > b.maxDelay {
		b.currentDelay = b.maxDelay
	}
	if b.currentDelay <= 0 {
		b.currentDelay = b.initialDelay
	}
}

// recordSuccess resets the delay and failure count after a reopen succeeds.
func (b *backoff) recordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentDelay = b.initialDelay
	b.consecutiveFailures = 0
}

func (b *backoff) currentDelayFor() time.Duration {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentDelay
}

// shouldStop reports whether the reconnect attempt budget is exhausted.
// A nil receiver reports true (fail closed: no backoff means no retries).
func (b *backoff) shouldStop() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts >= b.maxAttempts
}

// waitContext blocks for the current delay or until ctx is cancelled,
// whichever comes first.
func (b *backoff) waitContext(ctx context.Context) error {
	if b == nil {
		return nil
	}
	select {
	case <-time.After(b.currentDelayFor()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

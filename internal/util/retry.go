// ABOUTME: Retry utilities for external calls with exponential backoff
// ABOUTME: Shared by the generation gateway and escalation dispatcher for consistent retry behavior
package util

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// maxBackoff caps a single wait between attempts
const maxBackoff = 30 * time.Second

// CalculateBackoff returns exponential backoff with jitter
// Base delay is doubled each attempt, with random jitter up to 25%
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	// Cap attempt to avoid overflow in bit shift (max 30 for safety)
	if attempt > 30 {
		attempt = 30
	}
	// Exponential: 2^attempt * base
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	half := int64(backoff) / 2
	if half <= 0 {
		return backoff
	}
	// Add jitter: -25% to +25% using auto-seeded math/rand/v2
	jitter := time.Duration(rand.Int64N(half)) - backoff/4
	return backoff + jitter
}

// RetryPolicy bounds a retry loop by attempts and by total elapsed time
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxElapsed stops retrying once the next wait would pass it; zero means no limit
	MaxElapsed time.Duration
	// Retryable decides whether an error is worth another attempt; nil retries everything
	Retryable func(error) bool
}

// ErrRetryBudget is returned when the elapsed-time budget runs out before the attempts do
var ErrRetryBudget = errors.New("retry budget exhausted")

// Retry runs op until it succeeds, returns a non-retryable error, runs out of attempts,
// runs out of time or ctx is done. It returns the number of attempts made.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context, attempt int) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := CalculateBackoff(p.BaseDelay, attempt-1)
			if p.MaxElapsed > 0 && time.Since(start)+wait > p.MaxElapsed {
				return attempt - 1, fmt.Errorf("%w after %d attempts: %w", ErrRetryBudget, attempt-1, lastErr)
			}
			if err := Sleep(ctx, wait); err != nil {
				return attempt - 1, fmt.Errorf("attempt %d: %w", attempt-1, errors.Join(lastErr, err))
			}
		}

		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("attempt %d: %w", attempt, errors.Join(err, ctx.Err()))
		}
	}
	return p.MaxAttempts, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package saga drives order fulfillment forward: lease acquisition, step
// execution through the adapter registry, retry of transient failures and the
// hand-off to compensation when a step fails permanently.
package saga

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
)

// RetryPolicy retries transient failures with exponential backoff and full
// jitter. Permanent failures and context cancellation abort immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter maps a computed backoff to the actual wait. Defaults to a
	// uniform draw from [0, d). Injectable for deterministic tests.
	Jitter func(d time.Duration) time.Duration
	// Sleep waits for d or until ctx is done. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the standard budget: five attempts starting at
// 500ms, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff before the given attempt (1-based). The first
// attempt has no delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay << uint(attempt-2)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter != nil {
		return p.Jitter(d)
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. The returned error wraps the last failure, so transient
// classification survives exhaustion and the caller decides what a spent
// budget means for it.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			if err := p.sleep(ctx, d); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsTransient(lastErr) {
			return lastErr
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}
	}
	return fmt.Errorf("retry budget exhausted after %d attempts: %w", p.MaxAttempts, lastErr)
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

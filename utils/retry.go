package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy runs an action up to MaxAttempts times with a fixed Backoff
// between attempts. OnExhausted is invoked once with the last error when
// every attempt failed or the context ended first.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	OnAttempt   func(attempt int, err error)
	OnExhausted func(ctx context.Context, err error)
}

func (p RetryPolicy) Do(ctx context.Context, action func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = action(ctx)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, lastErr)
		}
		if lastErr == nil {
			return nil
		}
		if attempt >= attempts {
			break
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			lastErr = fmt.Errorf("%w after %d attempts: %v", err, attempt, lastErr)
			break
		}
	}

	if p.OnExhausted != nil {
		p.OnExhausted(ctx, lastErr)
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

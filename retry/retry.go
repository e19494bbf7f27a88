// Package retry runs fallible calls with capped exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy controls how often and how patiently a call is retried.
type Policy struct {
	// MaxRetries is the number of attempts after the first one. Zero disables retries.
	MaxRetries int
	Backoff    time.Duration
	BackoffMax time.Duration

	// ShouldRetry decides whether err is worth another attempt. Nil retries every error.
	ShouldRetry func(err error) bool

	// OnRetry is called before each sleep with the upcoming attempt number (1-based).
	OnRetry func(attempt int, err error)
}

// Delay returns the wait before the given retry attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := p.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := p.BackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// Do calls fn until it succeeds, the policy gives up, or ctx is done.
// The value and error of the last attempt are returned as-is so callers can
// still inspect a final unsuccessful result.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		val T
		err error
	)
	for attempt := 0; ; attempt++ {
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || attempt >= p.MaxRetries {
			return val, err
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return val, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return val, err
		case <-timer.C:
		}
	}
}

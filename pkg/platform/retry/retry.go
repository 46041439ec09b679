// Package retry re-invokes an operation on transient failures with exponential
// backoff. Non-retryable errors propagate immediately; when attempts are
// exhausted the last error is returned.
package retry

import (
	"context"
	"time"
)

type config struct {
	maxAttempts int
	minWait     time.Duration
	maxWait     time.Duration
	retryable   func(error) bool
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*config)

// WithMaxAttempts sets the total number of invocations, including the first.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithMinWait sets the backoff before the first retry.
func WithMinWait(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.minWait = d
		}
	}
}

// WithMaxWait caps the backoff between retries.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxWait = d
		}
	}
}

// WithRetryable restricts which errors are retried. Errors the predicate
// rejects propagate immediately.
func WithRetryable(fn func(error) bool) Option {
	return func(c *config) {
		if fn != nil {
			c.retryable = fn
		}
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *config) { c.sleep = fn }
}

// Do runs op, retrying per the options. The context is checked between
// attempts, so cancellation cuts the backoff short.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	cfg := config{
		maxAttempts: 3,
		minWait:     100 * time.Millisecond,
		maxWait:     5 * time.Second,
		retryable:   func(error) bool { return true },
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	wait := cfg.minWait
	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !cfg.retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.maxAttempts {
			break
		}
		if err := cfg.sleep(ctx, wait); err != nil {
			return err
		}
		wait *= 2
		if wait > cfg.maxWait {
			wait = cfg.maxWait
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

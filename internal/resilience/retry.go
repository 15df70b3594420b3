package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAttemptsExhausted is returned (wrapped around the last attempt's error)
// when a [RetryPolicy] gives up.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// RetryPolicy is a reusable retry strategy: max attempts, a backoff schedule,
// and a predicate deciding which errors are worth retrying. A single policy
// value is injected wherever retries are needed instead of ad hoc loops at
// call sites.
//
// The zero value is not usable; construct with [NewRetryPolicy] or one of the
// preset constructors.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Backoff returns the delay before attempt n (n starts at 1 for the
	// first retry, i.e. before the second try).
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err should be retried. A nil predicate
	// retries every error.
	Retryable func(err error) bool

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a policy with the given attempt budget and backoff.
// Non-positive maxAttempts defaults to 3. A nil backoff means no delay
// between attempts.
func NewRetryPolicy(maxAttempts int, backoff func(attempt int) time.Duration, retryable func(error) bool) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Retryable:   retryable,
		sleep:       sleepCtx,
	}
}

// ExponentialBackoff returns a backoff function with delays of
// base * 2^attempt (attempt 1 → 2*base, attempt 2 → 4*base, …).
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(1<<attempt)
	}
}

// ScheduleBackoff returns a backoff function that walks a fixed delay
// schedule. Attempts beyond the schedule reuse the final entry.
func ScheduleBackoff(delays ...time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if len(delays) == 0 {
			return 0
		}
		if attempt > len(delays) {
			return delays[len(delays)-1]
		}
		return delays[attempt-1]
	}
}

// Do runs fn up to MaxAttempts times, sleeping per Backoff between attempts.
// It stops early when fn succeeds, when Retryable rejects the error, or when
// ctx is cancelled. op labels the operation in logs.
//
// Retried delays are reported to onRetry (if non-nil) so callers can verify
// or meter the retry history.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		slog.Warn("retrying after failure",
			"op", op, "attempt", attempt, "delay", delay, "error", lastErr)
		if onRetry != nil {
			onRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, p.MaxAttempts, lastErr)
}

// DoWithResult is the result-carrying counterpart of [RetryPolicy.Do]. It is
// a package-level function because Go does not support method-level type
// parameters.
func DoWithResult[R any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (R, error)) (R, error) {
	var result R
	err := p.Do(ctx, op, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	}, nil)
	return result, err
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

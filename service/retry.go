package service

import (
	"context"
	"time"
)

// RetryPolicy bounds the retries of a flaky operation: MaxAttempts tries,
// the first retry after BaseDelay, each further delay multiplied by Factor.
// NoRetry short-circuits the policy for error kinds that must be rethrown
// immediately (typically Cancelled).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	NoRetry     func(error) bool
}

// DefaultRetryPolicy retries network operations 3 times with exponential
// backoff, never retrying a cancellation or a fatal error.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		NoRetry:     func(err error) bool { return Cancelled(err) || Fatal(err) },
	}
}

// WithRetry runs op under the policy, sleeping between attempts.
// The last error is returned when all attempts fail.
func WithRetry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	delay := policy.BaseDelay
	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return MakeCancelled(ctx.Err())
			}
			delay = time.Duration(float64(delay) * policy.Factor)
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if policy.NoRetry != nil && policy.NoRetry(err) {
			return err
		}
	}
	return err
}

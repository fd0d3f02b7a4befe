package client

import (
	"context"
	"math/rand"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy controls how read RPCs are retried
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  1.5,
		Jitter:         0.2,
	}
}

// retryableFunc is a function that can be retried
type retryableFunc func(ctx context.Context) error

// isRetryable reports whether err is a transient transport failure
func isRetryable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// withRetry runs fn until it succeeds, fails with a non-retryable error or
// the policy is exhausted
func withRetry(ctx context.Context, policy RetryPolicy, fn retryableFunc) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryable(err) {
			return err
		}

		if attempt == policy.MaxRetries {
			break
		}

		// Add jitter to prevent thundering herd
		jitter := 1.0
		if policy.Jitter > 0 {
			jitter = 1.0 + rand.Float64()*policy.Jitter
		}

		wait := time.Duration(float64(backoff) * jitter)
		if wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffFactor)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return err
}

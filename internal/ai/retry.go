package ai

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy: 3 attempts, exponential backoff between 1s and 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: time.Second, Max: 10 * time.Second}
}

// Call runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. Only side-effect free provider calls belong here.
func Call[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	var out T
	op := func() error {
		v, err := fn(ctx)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

package payment

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is a bounded exponential backoff policy: the n-th retry waits about
// Initial * Factor^(n-1), and at most Retry retries are made.
type Backoff struct {
	Initial time.Duration
	Factor  uint
	Retry   uint
}

// DefaultBackoff is used when no policy is configured.
var DefaultBackoff = Backoff{
	Initial: 200 * time.Millisecond,
	Factor:  2,
	Retry:   5,
}

// Do runs op until it succeeds, ctx is done, or retries are exhausted. Errors
// for which retryable returns false are returned right away.
func (b Backoff) Do(ctx context.Context, retryable func(error) bool, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b.policy(ctx))
}

func (b Backoff) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.Initial
	exp.Multiplier = float64(b.Factor)
	if b.Factor < 1 {
		exp.Multiplier = 1
	}
	exp.RandomizationFactor = 0.1
	// bounded by the retry count, not by time
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.Retry)), ctx)
}

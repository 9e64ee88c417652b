package enrich

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryConfig mirrors the fixed retry policy every enrichment job runs
// under: exponential backoff from 1s, doubling, +/-20% jitter, capped at
// 60s between attempts, five attempts total.
var retryConfig = struct {
	initial    time.Duration
	multiplier float64
	jitter     float64
	max        time.Duration
	maxTries   uint
}{
	initial:    1 * time.Second,
	multiplier: 2,
	jitter:     0.2,
	max:        60 * time.Second,
	maxTries:   5,
}

// withRetry runs fn under the fixed backoff policy. A permanent error
// (wrapped with backoff.Permanent) stops retrying immediately.
func withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryConfig.initial
	b.Multiplier = retryConfig.multiplier
	b.RandomizationFactor = retryConfig.jitter
	b.MaxInterval = retryConfig.max

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retryConfig.maxTries))
	return err
}

// permanent marks err as non-retryable; withRetry stops on the first
// attempt that returns it.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

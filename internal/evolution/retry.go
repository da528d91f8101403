package evolution

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// linearBackOff waits n*step after the n-th failed attempt.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// withRetry runs fn up to maxAttempts times. After failed attempt n it
// sleeps n*backoff. Transport errors and 408/429/5xx are retried; other
// errors return at once. The error of the last attempt is returned, also
// when ctx ends during a wait.
//
// Writes go through the same policy. A create or update whose response was
// lost can therefore be applied twice by the gateway. Instance creation is
// keyed by name upstream (a replay fails with a 4xx), bot linking runs
// find-then-update under a per-instance lock, and the remaining writes are
// idempotent by path, so the exposure is limited to a duplicate bot when a
// create response is lost.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var (
		last    error
		attempt int
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		last = fn(ctx)
		if last != nil && !retryable(ctx, last) {
			return struct{}{}, backoff.Permanent(last)
		}
		return struct{}{}, last
	},
		backoff.WithBackOff(&linearBackOff{step: c.backoff}),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.metrics.retry(op)
			c.logger.WarnContext(ctx, "evolution call failed, retrying",
				"operation", op,
				"attempt", attempt,
				"backoff_ms", wait.Milliseconds(),
				"err", err,
			)
		}),
	)
	if err != nil && last != nil {
		return last
	}
	return err
}

package indexer

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryDelay = 100 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// retryPolicy retries RPC calls with a doubling delay capped at maxDelay.
type retryPolicy struct {
	retries  int
	base     time.Duration
	maxDelay time.Duration

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(retries int, base time.Duration) retryPolicy {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = defaultRetryDelay
	}
	return retryPolicy{retries: retries, base: base, maxDelay: maxRetryDelay, wait: sleepCtx}
}

// delay returns the pause before retry number attempt, counting from zero.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.base
	for i := 0; i < attempt; i++ {
		if d >= p.maxDelay/2 {
			return p.maxDelay
		}
		d *= 2
	}
	if d > p.maxDelay {
		return p.maxDelay
	}
	return d
}

// do runs fn until it succeeds, the retries run out, or ctx ends. onRetry, when set, is
// told about each failure that will be retried. Context errors from fn are not retried.
func (p retryPolicy) do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt >= p.retries {
			return err
		}

		d := p.delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, d, err)
		}
		if err := p.wait(ctx, d); err != nil {
			return err
		}
	}
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

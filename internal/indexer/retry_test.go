package indexer

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordWaits replaces the policy's sleep with one that records the requested delays.
func recordWaits(p retryPolicy) (retryPolicy, *[]time.Duration) {
	var waits []time.Duration
	p.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

func TestRetryDoublesDelay(t *testing.T) {
	policy, waits := recordWaits(newRetryPolicy(3, 10*time.Millisecond))

	calls := 0
	var retried []int
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("rate limited")
		}
		return nil
	}, func(attempt int, _ time.Duration, _ error) {
		retried = append(retried, attempt)
	})
	if err != nil {
		t.Fatalf("expected success on last attempt: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(*waits) != len(want) {
		t.Fatalf("waits mismatch: %v", *waits)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("wait %d: got %v want %v", i, (*waits)[i], want[i])
		}
	}
	if len(retried) != 3 || retried[0] != 1 || retried[2] != 3 {
		t.Fatalf("retry callbacks mismatch: %v", retried)
	}
}

func TestRetryGivesUp(t *testing.T) {
	policy, waits := recordWaits(newRetryPolicy(2, time.Millisecond))
	boom := errors.New("boom")

	calls := 0
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 || len(*waits) != 2 {
		t.Fatalf("expected 3 calls and 2 waits, got %d and %d", calls, len(*waits))
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	policy := newRetryPolicy(100, time.Second)
	if got := policy.delay(3); got != 8*time.Second {
		t.Fatalf("delay(3) = %v", got)
	}
	if got := policy.delay(60); got != maxRetryDelay {
		t.Fatalf("delay should cap at %v, got %v", maxRetryDelay, got)
	}
}

func TestRetryDefaults(t *testing.T) {
	policy := newRetryPolicy(-1, 0)
	if policy.retries != 0 || policy.base != defaultRetryDelay {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := newRetryPolicy(5, time.Hour)

	calls := 0
	err := policy.do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("rate limited")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryDoesNotRetryContextErrors(t *testing.T) {
	policy, waits := recordWaits(newRetryPolicy(5, time.Millisecond))

	calls := 0
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) || calls != 1 || len(*waits) != 0 {
		t.Fatalf("context errors must not be retried: err=%v calls=%d waits=%d", err, calls, len(*waits))
	}
}

// Package retryutil implements a bounded retry loop with exponential
// backoff. Whether a given failure is worth retrying is decided by a
// caller-supplied predicate, not by the loop itself.
package retryutil

import (
	"context"
	"log/slog"
	"time"

	"github.com/mazen160/go-random"
)

type Policy struct {
	// total attempts, including the first one
	MaxAttempts int
	BaseWait    time.Duration
	MaxWait     time.Duration

	// overridable for tests, defaults to a real context-aware sleep
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p Policy) wait(attempt int) time.Duration {
	d := p.BaseWait << (attempt - 1)
	if d > p.MaxWait {
		d = p.MaxWait
	}
	// small random jitter so parallel callers don't resend in lockstep
	jitterMs, err := random.IntRange(0, 250)
	if err == nil {
		d += time.Duration(jitterMs) * time.Millisecond
	}
	return d
}

// Do runs op until it succeeds, the attempt budget runs out, or the
// predicate reports the error as not retryable. The last error is
// returned unwrapped so callers can inspect its kind.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool) error {
	doSleep := p.Sleep
	if doSleep == nil {
		doSleep = sleep
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.wait(attempt)
		slog.WarnContext(
			ctx, "retrying after failure",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"wait", wait,
			"err", lastErr,
		)
		if err := doSleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

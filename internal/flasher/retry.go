package flasher

import (
	"context"
	"fmt"
	"time"
)

// Backoff constants for the connect retry loop.
const (
	backoffStep = 400 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// connectBackoff is the delay applied after a failed connect attempt:
// linear in the attempt number, capped.
func connectBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * backoffStep
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// Attempt runs op up to maxAttempts times, sleeping backoff(attempt)
// between tries. Attempt numbers start at 1.
//
// Classification is centralised in isRecoverable: a failure it rejects
// aborts the loop immediately and is returned as-is. Exhausting the
// attempt budget returns ErrMaxRetries wrapping the last failure.
//
// Returns the number of attempts actually made alongside the result.
func Attempt(ctx context.Context, maxAttempts int, backoff func(attempt int) time.Duration, isRecoverable func(error) bool, op func(attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !isRecoverable(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return attempt, err
		}
	}

	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, maxAttempts, lastErr)
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

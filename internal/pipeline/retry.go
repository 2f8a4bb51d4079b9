package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// RetryWithBackoff runs op up to maxAttempts times, doubling the delay after
// each failure. Permanent errors and context cancellation stop the loop
// immediately; the last error is returned when all attempts are spent.
func RetryWithBackoff(ctx context.Context, op func(ctx context.Context) error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		slog.WarnContext(ctx, "operation failed, retrying",
			"attempt", attempt, "max_attempts", maxAttempts, "delay", delay.String(), "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

package cdpcontrol

import (
	"context"
	"log/slog"
	"time"
)

// Retry runs fn up to attempts times, sleeping delay between failures, and
// returns the last error. It gives up early when ctx is done.
func Retry(ctx context.Context, attempts int, delay time.Duration, what string, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		slog.Warn(what+" failed", "attempt", attempt, "attempts", attempts, "error", err)
		if attempt == attempts {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

package crawler

import (
	"context"
	"fmt"
	"time"
)

// Pause blocks for delay or until ctx ends, whichever comes first.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// RemainingDelay returns how much of delay is still owed when the previous
// fetch ended at last. A zero last means no fetch has happened yet.
func RemainingDelay(last, now time.Time, delay time.Duration) time.Duration {
	if last.IsZero() || delay <= 0 {
		return 0
	}
	remaining := delay - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

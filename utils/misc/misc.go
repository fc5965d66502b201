package misc

import (
	"context"
	"time"
)

// SleepCtx sleeps for the given duration or until the context is done, whichever comes first.
func SleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package timeutil

import (
	"context"
	"time"
)

// SleepContext waits for d on clock, returning early with ctx.Err() if ctx is
// cancelled first.
func SleepContext(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTicker(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

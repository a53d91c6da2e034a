package groutine

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is done, whichever comes first. It returns ctx.Err()
// when the context ended the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package airquality

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Wait suspends for d on clk, or until ctx is done.
func Wait(ctx context.Context, clk clock.Clock, d time.Duration) error {
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

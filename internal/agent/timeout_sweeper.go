package agent

import (
	"context"
	"time"
)

// RunTimeoutSweeper periodically triggers a RequestCache sweep so a
// session abandoned mid-PROTECT (peer went away between messages) is
// eventually reclaimed instead of pinning that address forever (the
// Open Question 2 addition — see DESIGN.md). Grounded on the teacher's
// retry_worker.go ticker-driven cleanup loop. Run in its own goroutine;
// it only enqueues sweep events.
func RunTimeoutSweeper(ctx context.Context, a *Agent, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.TriggerSweep()
		}
	}
}

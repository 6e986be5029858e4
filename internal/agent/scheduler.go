package agent

import (
	"context"
	"math/rand"
	"time"
)

// step is the scheduler's periodic action (spec.md §4.7): pick a random
// peer from the discovery list and start a PROTECT session, falling back
// to the bare base protocol when no PROTECT variant is in use.
func (a *Agent) step(ctx context.Context) {
	peers := a.peers.Peers()
	if len(peers) == 0 {
		return
	}
	peer := peers[rand.Intn(len(peers))]
	if a.cfg.UsePROTECT {
		a.RequestProtect(ctx, peer.Address, peer.PublicKey)
	} else {
		a.RequestInteraction(ctx, peer.Address, peer.PublicKey)
	}
}

// RunScheduler ticks the agent every StepInterval after an initial
// StartupDelay, grounded on the teacher's ticker-driven background-worker
// shape (peer_monitor.go, retry_worker.go). Run it in its own goroutine;
// it only enqueues Tick events onto a.events, never touching agent state
// directly (spec.md §5).
func RunScheduler(ctx context.Context, a *Agent) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(a.cfg.StartupDelay):
	}

	interval := a.cfg.StepInterval
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
			a.Tick()
		}
	}
}

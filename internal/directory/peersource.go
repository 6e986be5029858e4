package directory

import (
	"context"
	"sync"
	"time"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

// PeerSource polls a directory Client on an interval and serves the last
// successful result, so a transient directory outage degrades to stale
// candidates instead of stalling the scheduler (spec.md §4.7).
type PeerSource struct {
	client *Client
	self   []byte
	log    *logging.Logger

	mu     sync.RWMutex
	cached []agent.Peer
}

// NewPeerSource builds a PeerSource backed by client. self is this
// agent's own public key, excluded from the candidate list it serves.
func NewPeerSource(client *Client, self []byte, log *logging.Logger) *PeerSource {
	return &PeerSource{client: client, self: self, log: log}
}

// Peers implements agent.PeerSource with whatever the last successful
// poll returned.
func (p *PeerSource) Peers() []agent.Peer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Run polls the directory every interval until ctx is canceled,
// refreshing the cached candidate list.
func (p *PeerSource) Run(ctx context.Context, interval time.Duration) {
	p.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *PeerSource) poll(ctx context.Context) {
	agents, err := p.client.Agents(ctx)
	if err != nil {
		p.log.Debug("directory poll failed, keeping stale candidate list", "error", err)
		return
	}

	peers := make([]agent.Peer, 0, len(agents))
	for _, info := range agents {
		if string(info.PublicKey) == string(p.self) {
			continue
		}
		peers = append(peers, agent.Peer{Address: info.Address, PublicKey: info.PublicKey})
	}

	p.mu.Lock()
	p.cached = peers
	p.mu.Unlock()
}

var _ agent.PeerSource = (*PeerSource)(nil)

// Package node - peer connectedness monitor, adapted from the teacher's
// PeerMonitor (internal/node/peer_monitor.go): same EventBus subscription
// shape, but it now keeps the known-peer cache's last-seen timestamps
// current instead of flushing a pending-message queue (that queue has no
// equivalent in this domain — PROTECT and the base protocol have no
// persisted outbox to drain on reconnect).
package node

import (
	"context"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

// PeerMonitor watches libp2p connectedness-change events and mirrors
// them into the known-peer cache.
type PeerMonitor struct {
	node *Node
	log  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPeerMonitor builds a PeerMonitor for n.
func NewPeerMonitor(n *Node) *PeerMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &PeerMonitor{
		node:   n,
		log:    logging.GetDefault().Component("peer-monitor"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the host's EventBus and begins the monitor loop.
func (m *PeerMonitor) Start() error {
	sub, err := m.node.Host().EventBus().Subscribe(new(event.EvtPeerConnectednessChanged))
	if err != nil {
		return err
	}
	go m.run(sub)
	m.log.Info("peer monitor started")
	return nil
}

// Stop stops the monitor.
func (m *PeerMonitor) Stop() {
	m.cancel()
	m.log.Info("peer monitor stopped")
}

func (m *PeerMonitor) run(sub event.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-sub.Out():
			e, ok := ev.(event.EvtPeerConnectednessChanged)
			if !ok {
				continue
			}
			m.handleConnectednessChange(e)
		}
	}
}

func (m *PeerMonitor) handleConnectednessChange(e event.EvtPeerConnectednessChanged) {
	switch e.Connectedness {
	case network.Connected:
		m.node.savePeerOnConnect(e.Peer)
	case network.NotConnected:
		m.handlePeerDisconnected(e.Peer)
	}
}

func (m *PeerMonitor) handlePeerDisconnected(peerID peer.ID) {
	if err := m.node.store.UpdatePeerSeen(peerID.String()); err != nil {
		m.log.Debug("failed to update last-seen on disconnect", "peer", shortID(peerID), "error", err)
	}
}

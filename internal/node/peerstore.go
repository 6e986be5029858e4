// Package node - peer persistence, adapted from the teacher's
// PeerStoreAdapter (internal/node/peerstore.go) onto internal/store's
// known_peers table in place of the old internal/storage package.
package node

import (
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/internal/store"
)

// knownPeerSource feeds the PROTECT scheduler (spec.md §4.7) from the
// persisted known-peer cache: only entries whose TrustChain public key
// has actually been learned (read from the libp2p peerstore when the
// peer connects, see savePeerOnConnect) are usable candidates — a bare
// libp2p peer ID is a transport endpoint, not a chain identity.
type knownPeerSource struct {
	store *store.Store
}

var _ agent.PeerSource = (*knownPeerSource)(nil)

func (s *knownPeerSource) Peers() []agent.Peer {
	recent, err := s.store.ListRecentPeers(time.Now().Add(-7*24*time.Hour), 100)
	if err != nil {
		return nil
	}

	out := make([]agent.Peer, 0, len(recent))
	for _, p := range recent {
		if len(p.PublicKey) == 0 {
			continue
		}
		out = append(out, agent.Peer{Address: p.PeerID, PublicKey: p.PublicKey})
	}
	return out
}

// compositePeerSource merges candidates from multiple sources (the
// locally persisted known-peer cache and, when configured, a directory
// poller), deduplicating by public key so the scheduler sees each peer
// once regardless of which source learned it first.
type compositePeerSource struct {
	sources []agent.PeerSource
}

var _ agent.PeerSource = (*compositePeerSource)(nil)

func (c *compositePeerSource) Peers() []agent.Peer {
	seen := make(map[string]struct{})
	var out []agent.Peer
	for _, src := range c.sources {
		for _, p := range src.Peers() {
			key := string(p.PublicKey)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// RememberPeer upserts addr's address/public key into the known-peer
// cache. publicKey may be nil when only a transport sighting (mDNS/DHT)
// is known so far.
func (n *Node) RememberPeer(peerID peer.ID, addrs []multiaddr.Multiaddr, publicKey []byte) {
	addrStrs := make([]string, len(addrs))
	for i, a := range addrs {
		addrStrs[i] = a.String()
	}
	if err := n.store.SaveKnownPeer(store.KnownPeer{
		PeerID:    peerID.String(),
		Addresses: addrStrs,
		PublicKey: publicKey,
	}); err != nil {
		n.log.Debug("failed to save known peer", "peer", shortID(peerID), "error", err)
	}
}

// LoadPersistedPeers seeds the libp2p peerstore from the known-peer
// cache so reconnects don't depend on mDNS/DHT rediscovery.
func (n *Node) LoadPersistedPeers() error {
	recent, err := n.store.ListRecentPeers(time.Now().Add(-7*24*time.Hour), 100)
	if err != nil {
		return err
	}

	loaded := 0
	for _, p := range recent {
		pid, err := peer.Decode(p.PeerID)
		if err != nil || pid == n.host.ID() {
			continue
		}

		addrs := make([]multiaddr.Multiaddr, 0, len(p.Addresses))
		for _, addrStr := range p.Addresses {
			ma, err := multiaddr.NewMultiaddr(addrStr)
			if err != nil {
				continue
			}
			addrs = append(addrs, ma)
		}
		if len(addrs) == 0 {
			continue
		}

		n.host.Peerstore().AddAddrs(pid, addrs, peerstore.TempAddrTTL)
		loaded++
	}

	if loaded > 0 {
		n.log.Info("loaded persisted peers", "count", loaded)
	}
	return nil
}

// savePeerOnConnect records a freshly connected peer's address, grounded
// on the teacher's connection-notification hook in node.go. The secure
// channel handshake libp2p completes before this fires always leaves the
// remote's public key in the peerstore, so every connected peer yields a
// usable TrustChain identity for the PROTECT scheduler.
func (n *Node) savePeerOnConnect(peerID peer.ID) {
	addrs := n.host.Peerstore().Addrs(peerID)
	if len(addrs) == 0 {
		return
	}

	var publicKey []byte
	if pub := n.host.Peerstore().PubKey(peerID); pub != nil {
		if marshaled, err := crypto.MarshalPublicKey(pub); err == nil {
			publicKey = marshaled
		} else {
			n.log.Debug("failed to marshal peer public key", "peer", shortID(peerID), "error", err)
		}
	}
	n.RememberPeer(peerID, addrs, publicKey)
}

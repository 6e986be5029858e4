// Package node wires a TrustChain agent onto a libp2p host: listening,
// NAT/relay/hole-punching, DHT + mDNS discovery, and the envelope stream
// protocol PROTECT and the base protocol ride on. Adapted from the
// teacher's internal/node/node.go, dropping PubSub/swap-specific pieces
// (spec.md's data model is strictly pairwise — see DESIGN.md's dropped-
// dependency entry for go-libp2p-pubsub) in favor of wiring
// internal/agent.Agent into the host's stream layer.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/internal/config"
	"github.com/trustmesh-net/trustchaind/internal/identity"
	"github.com/trustmesh-net/trustchaind/internal/store"
	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

// Node is a TrustChain agent's network half: the libp2p host plus
// discovery, bound to the protocol state machine in internal/agent.
type Node struct {
	host host.Host
	dht  *dht.IpfsDHT

	config   *config.Config
	identity *identity.Identity
	store    *store.Store
	agent    *agent.Agent
	log      *logging.Logger

	mdnsService mdns.Service
	routingDisc *drouting.RoutingDiscovery
	peerMonitor *PeerMonitor

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// New builds a Node: the libp2p host, discovery services, and the
// internal/agent.Agent bound to this host's stream transport and
// known-peer cache. dirPeers is an additional, optional candidate
// source (the directory poller, SPEC_FULL.md §4.10) merged with the
// known-peer cache; pass nil when no directory is configured.
func New(ctx context.Context, cfg *config.Config, st *store.Store, id *identity.Identity, opts agent.Options, dirPeers agent.PeerSource) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	n := &Node{
		config:   cfg,
		identity: id,
		store:    st,
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.GetDefault().Component("node"),
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Network.ListenAddrs))
	for _, addr := range cfg.Network.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	cm, err := connmgr.NewConnManager(
		cfg.Network.ConnMgr.LowWater,
		cfg.Network.ConnMgr.HighWater,
		connmgr.WithGracePeriod(cfg.Network.ConnMgr.GracePeriod),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	hostOpts := []libp2p.Option{
		libp2p.Identity(id.PrivateKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if cfg.Network.EnableNAT {
		hostOpts = append(hostOpts, libp2p.NATPortMap())
	}
	if cfg.Network.EnableRelay {
		hostOpts = append(hostOpts, libp2p.EnableRelay())
	}
	if cfg.Network.EnableHolePunching {
		hostOpts = append(hostOpts, libp2p.EnableHolePunching())
	}

	h, err := libp2p.New(hostOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	n.host = h

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			go n.savePeerOnConnect(conn.RemotePeer())
		},
	})

	if cfg.Network.EnableDHT {
		if err := n.initDHT(ctx); err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("failed to initialize DHT: %w", err)
		}
	}

	if cfg.Network.EnableMDNS {
		if err := n.initMDNS(); err != nil {
			n.log.Warn("mDNS initialization failed", "error", err)
		}
	}

	peerSource := agent.PeerSource(&knownPeerSource{store: st})
	if dirPeers != nil {
		peerSource = &compositePeerSource{sources: []agent.PeerSource{&knownPeerSource{store: st}, dirPeers}}
	}

	ag, err := agent.New(
		id.PrivateKey,
		h.ID().String(),
		st,
		&streamTransport{node: n},
		peerSource,
		cfg.Agent,
		opts,
		logging.GetDefault().Component("agent"),
	)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}
	n.agent = ag

	h.SetStreamHandler(ProtocolID, n.handleStream)

	n.peerMonitor = NewPeerMonitor(n)
	if err := n.peerMonitor.Start(); err != nil {
		n.log.Warn("failed to start peer monitor", "error", err)
	}

	if err := n.LoadPersistedPeers(); err != nil {
		n.log.Warn("failed to load persisted peers", "error", err)
	}

	return n, nil
}

// initDHT initializes the Kademlia DHT under the TrustChain protocol
// prefix (config.DHTProtocolPrefix — this network has no mainnet/testnet
// split to further namespace).
func (n *Node) initDHT(ctx context.Context) error {
	var err error
	n.dht, err = dht.New(ctx, n.host,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(protocol.ID(config.DHTProtocolPrefix)),
	)
	if err != nil {
		return err
	}
	if err := n.dht.Bootstrap(ctx); err != nil {
		return err
	}
	n.routingDisc = drouting.NewRoutingDiscovery(n.dht)
	return nil
}

// initMDNS initializes mDNS discovery for local network peers.
func (n *Node) initMDNS() error {
	n.mdnsService = mdns.NewMdnsService(n.host, config.DiscoveryNamespace, n)
	return n.mdnsService.Start()
}

// HandlePeerFound is called when mDNS discovers a peer.
func (n *Node) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}
	n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)

	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, pi); err != nil {
			n.log.Debug("failed to connect to mDNS peer", "peer", shortID(pi.ID), "error", err)
		}
	}()
}

// Run starts the node's bootstrap/discovery goroutines and blocks
// running the agent's event loop, scheduler, and timeout sweeper until
// ctx is canceled.
func (n *Node) Run(ctx context.Context) {
	n.startTime = time.Now()

	for _, addrStr := range n.config.Network.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			n.log.Warn("invalid bootstrap address", "addr", addrStr, "error", err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.log.Warn("invalid bootstrap peer info", "addr", addrStr, "error", err)
			continue
		}
		go func(pi peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
			defer cancel()
			if err := n.host.Connect(ctx, pi); err != nil {
				n.log.Warn("failed to connect to bootstrap peer", "peer", shortID(pi.ID), "error", err)
			} else {
				n.log.Info("connected to bootstrap peer", "peer", shortID(pi.ID))
			}
		}(*pi)
	}

	if n.routingDisc != nil {
		go dutil.Advertise(n.ctx, n.routingDisc, config.DiscoveryNamespace)
		go n.discoverPeers()
	}

	timeout := n.config.Agent.StepInterval * time.Duration(n.config.Agent.RequestCacheTimeoutMultiplier)
	go agent.RunTimeoutSweeper(ctx, n.agent, timeout)
	go agent.RunScheduler(ctx, n.agent)

	n.agent.Run(ctx)
}

// discoverPeers continuously discovers new peers via the DHT's routing
// advertisement.
func (n *Node) discoverPeers() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peers, err := dutil.FindPeers(n.ctx, n.routingDisc, config.DiscoveryNamespace)
			if err != nil {
				continue
			}
			for _, pi := range peers {
				if pi.ID == n.host.ID() {
					continue
				}
				if n.host.Network().Connectedness(pi.ID) == network.Connected {
					continue
				}
				go func(pi peer.AddrInfo) {
					ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
					defer cancel()
					n.host.Connect(ctx, pi)
				}(pi)
			}
		}
	}
}

// Stop stops the node gracefully.
func (n *Node) Stop() error {
	n.cancel()

	if n.peerMonitor != nil {
		n.peerMonitor.Stop()
	}
	if n.mdnsService != nil {
		n.mdnsService.Close()
	}
	if n.dht != nil {
		n.dht.Close()
	}
	return n.host.Close()
}

// ID returns the node's peer ID.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addrs returns the node's listen addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr { return n.host.Addrs() }

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host { return n.host }

// DHT returns the Kademlia DHT, or nil if disabled.
func (n *Node) DHT() *dht.IpfsDHT { return n.dht }

// Peers returns the list of connected transport peers.
func (n *Node) Peers() []peer.ID { return n.host.Network().Peers() }

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int { return len(n.host.Network().Peers()) }

// Connect connects to a peer.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return n.host.Connect(ctx, pi)
}

// ConnectByAddr connects to a peer by multiaddr string.
func (n *Node) ConnectByAddr(ctx context.Context, addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr: %w", err)
	}
	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return fmt.Errorf("invalid peer addr info: %w", err)
	}
	return n.host.Connect(ctx, *pi)
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration { return time.Since(n.startTime) }

// Config returns the node's configuration.
func (n *Node) Config() *config.Config { return n.config }

// Agent returns the bound PROTECT/base-protocol agent.
func (n *Node) Agent() *agent.Agent { return n.agent }

// Store returns the node's persistence handle.
func (n *Node) Store() *store.Store { return n.store }

// shortID returns a truncated peer ID for logging.
func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

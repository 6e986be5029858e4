// Package node - libp2p transport for the agent's envelope protocol,
// adapted from the teacher's direct-stream messaging (stream_handler.go)
// down to a single length-prefixed envelope per stream: PROTECT and the
// base protocol are fire-and-forget one-way sends, not the teacher's
// request/ACK exchange, so there is nothing to wait for on the same
// stream.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/internal/wire"
)

// ProtocolID is the libp2p stream protocol agents speak the envelope
// wire format on.
const ProtocolID protocol.ID = "/trustchain/agent/1.0.0"

// streamTransport implements agent.Transport over libp2p streams: address
// is a peer.ID string, resolved against the host's own peerstore/DHT.
type streamTransport struct {
	node *Node
}

var _ agent.Transport = (*streamTransport)(nil)

// Send opens a fresh stream to address, writes env, and closes.
func (t *streamTransport) Send(ctx context.Context, address string, env *wire.Envelope) error {
	pid, err := peer.Decode(address)
	if err != nil {
		return fmt.Errorf("decode peer address %q: %w", address, err)
	}

	stream, err := t.node.host.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", address, err)
	}
	defer stream.Close()

	stream.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if err := wire.WriteEnvelope(stream, env); err != nil {
		return fmt.Errorf("write envelope to %s: %w", address, err)
	}
	return nil
}

// handleStream is the libp2p SetStreamHandler callback: read exactly one
// envelope and feed it to the agent's event loop.
func (n *Node) handleStream(s network.Stream) {
	defer s.Close()

	remote := s.Conn().RemotePeer()
	s.SetReadDeadline(time.Now().Add(60 * time.Second))

	env, err := wire.ReadEnvelope(s)
	if err != nil {
		n.log.Debug("failed to read envelope", "peer", shortID(remote), "error", err)
		return
	}

	n.log.Debug("received envelope", "peer", shortID(remote), "type", env.Type.String())
	n.agent.Inbound(remote.String(), env)
}

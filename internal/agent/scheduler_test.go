package agent

import (
	"context"
	"testing"
)

func TestStepSkipsWhenNoPeersKnown(t *testing.T) {
	a, _ := newTestAgent(t)
	transport := &recordingTransport{}
	a.transport = transport

	a.step(context.Background())

	if len(transport.sent) != 0 {
		t.Fatalf("expected no outbound messages with an empty peer list, got %+v", transport.sent)
	}
}

func TestStepUsesProtectWhenEnabled(t *testing.T) {
	a, _ := newTestAgent(t)
	transport := &recordingTransport{}
	a.transport = transport
	a.peers = staticPeers{peers: []Peer{{Address: "only-peer", PublicKey: []byte("pk")}}}
	a.cfg.UsePROTECT = true

	a.step(context.Background())

	if len(transport.sent) != 1 || transport.sent[0].Type != 7 {
		t.Fatalf("expected a single PROTECT_CHAIN message, got %+v", transport.sent)
	}
}

func TestStepFallsBackToBaseProtocolWhenProtectDisabled(t *testing.T) {
	a, _ := newTestAgent(t)
	transport := &recordingTransport{}
	a.transport = transport
	a.peers = staticPeers{peers: []Peer{{Address: "only-peer", PublicKey: []byte("pk")}}}
	a.cfg.UsePROTECT = false

	a.step(context.Background())

	if len(transport.sent) != 1 || transport.sent[0].Type != 5 {
		t.Fatalf("expected a single BLOCK_PROPOSAL message, got %+v", transport.sent)
	}
}

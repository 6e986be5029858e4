package agent

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/trustmesh-net/trustchaind/internal/chain"
	"github.com/trustmesh-net/trustchaind/internal/config"
	"github.com/trustmesh-net/trustchaind/internal/store"
	"github.com/trustmesh-net/trustchaind/internal/wire"
	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

// loopbackTransport dispatches straight into the peer agent's handler
// table, skipping the event channel so protocol tests run synchronously
// and deterministically.
type loopbackTransport struct {
	peer *Agent
}

func (t *loopbackTransport) Send(ctx context.Context, address string, env *wire.Envelope) error {
	t.peer.dispatch(ctx, address, env)
	return nil
}

// recordingTransport captures every envelope it's asked to send instead
// of delivering it, for tests that only need to inspect the reply.
type recordingTransport struct {
	sent []*wire.Envelope
}

func (t *recordingTransport) Send(ctx context.Context, address string, env *wire.Envelope) error {
	t.sent = append(t.sent, env)
	return nil
}

type staticPeers struct{ peers []Peer }

func (p staticPeers) Peers() []Peer { return p.peers }

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		StepInterval:                  time.Second,
		StartupDelay:                  time.Second,
		RequestCacheTimeoutMultiplier: 10,
		UsePROTECT:                    true,
	}
}

func newTestAgent(t *testing.T) (*Agent, crypto.PrivKey) {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	st, err := store.New(&store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.CreateGenesis(priv); err != nil {
		t.Fatalf("create genesis: %v", err)
	}
	a, err := New(priv, "addr", st, nil, staticPeers{}, testAgentConfig(), Options{}, logging.Default())
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a, priv
}

func TestProtectHandshakeCompletesBetweenGenesisOnlyPeers(t *testing.T) {
	agentA, _ := newTestAgent(t)
	agentB, _ := newTestAgent(t)

	agentA.transport = &loopbackTransport{peer: agentB}
	agentB.transport = &loopbackTransport{peer: agentA}

	ctx := context.Background()
	agentA.RequestProtect(ctx, "b-addr", agentB.PublicKey())

	if _, open := agentA.cache.Get("b-addr"); open {
		t.Fatal("expected agent A's session to be closed after the handshake")
	}
	// loopbackTransport hands B the destination address, so B's session
	// is keyed "b-addr" as well.
	if _, open := agentB.cache.Get("b-addr"); open {
		t.Fatal("expected agent B's session to be closed after the handshake")
	}

	chainA, err := agentA.store.GetChain(agentA.PublicKey())
	if err != nil {
		t.Fatalf("get chain A: %v", err)
	}
	if len(chainA) < 2 {
		t.Fatalf("expected agent A to have minted at least one exchange block, got chain length %d", len(chainA))
	}
	chainB, err := agentB.store.GetChain(agentB.PublicKey())
	if err != nil {
		t.Fatalf("get chain B: %v", err)
	}
	if len(chainB) < 2 {
		t.Fatalf("expected agent B to have minted at least one exchange block, got chain length %d", len(chainB))
	}

	ignoredA, err := agentA.store.IgnoredKeys()
	if err != nil {
		t.Fatalf("ignored keys A: %v", err)
	}
	if len(ignoredA) != 0 {
		t.Fatal("a clean handshake must not add anyone to the ignore list")
	}

	exA, err := agentA.store.AsMessage()
	if err != nil {
		t.Fatalf("exchange storage A: %v", err)
	}
	if len(exA.Entries) == 0 {
		t.Fatal("expected agent A to have recorded an exchange-storage entry")
	}
}

func TestProtectChainRejectsGap(t *testing.T) {
	responder, _ := newTestAgent(t)
	transport := &recordingTransport{}
	responder.transport = transport

	initPriv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f, err := chain.NewFactory(initPriv)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	genesis, err := f.CreateGenesis()
	if err != nil {
		t.Fatalf("create genesis: %v", err)
	}
	// Skip sequence 2 entirely: mint a block that claims sequence 3.
	gapped, err := f.CreateNew(genesis, nil, chain.Transaction{})
	if err != nil {
		t.Fatalf("create new: %v", err)
	}
	gapped.SequenceNumber = 3

	wireBlocks, err := wire.BlocksToWire([]*chain.Block{genesis, gapped})
	if err != nil {
		t.Fatalf("encode blocks: %v", err)
	}
	env := &wire.Envelope{
		Type: wire.ProtectChain,
		Database: &wire.Database{
			Info:   wire.AgentInfo{PublicKey: f.PublicKey()},
			Blocks: wireBlocks,
		},
	}

	responder.handleProtectChain(context.Background(), "gapped-peer", env)

	if len(transport.sent) != 1 || transport.sent[0].Type != wire.ProtectReject {
		t.Fatalf("expected a single PROTECT_REJECT, got %+v", transport.sent)
	}
	ignored, err := responder.store.IsIgnored(f.PublicKey())
	if err != nil {
		t.Fatalf("is ignored: %v", err)
	}
	if !ignored {
		t.Fatal("expected the sender of a gapped chain to be added to the ignore list")
	}
	if _, open := responder.cache.Get("gapped-peer"); open {
		t.Fatal("a fraudulent chain must not leave an open session behind")
	}
}

func TestProtectChainRejectsSimultaneousInitiation(t *testing.T) {
	responder, _ := newTestAgent(t)
	transport := &recordingTransport{}
	responder.transport = transport

	responder.cache.New("peer-addr", RoleResponder, []byte("already-talking"))

	initPriv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f, err := chain.NewFactory(initPriv)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	genesis, err := f.CreateGenesis()
	if err != nil {
		t.Fatalf("create genesis: %v", err)
	}
	wireBlocks, err := wire.BlocksToWire([]*chain.Block{genesis})
	if err != nil {
		t.Fatalf("encode blocks: %v", err)
	}
	env := &wire.Envelope{
		Type:     wire.ProtectChain,
		Database: &wire.Database{Info: wire.AgentInfo{PublicKey: f.PublicKey()}, Blocks: wireBlocks},
	}

	responder.handleProtectChain(context.Background(), "peer-addr", env)

	if len(transport.sent) != 1 || transport.sent[0].Type != wire.ProtectReject {
		t.Fatalf("expected a single PROTECT_REJECT for the colliding request, got %+v", transport.sent)
	}
	ignored, err := responder.store.IsIgnored(f.PublicKey())
	if err != nil {
		t.Fatalf("is ignored: %v", err)
	}
	if ignored {
		t.Fatal("a simultaneous-initiation collision must not add anyone to the ignore list")
	}
}

func TestProtectRejectClearsSession(t *testing.T) {
	a, _ := newTestAgent(t)
	a.cache.New("peer", RoleInitiator, []byte("peer-key"))

	a.handleProtectReject(context.Background(), "peer", &wire.Envelope{Type: wire.ProtectReject})

	if _, open := a.cache.Get("peer"); open {
		t.Fatal("PROTECT_REJECT must clear the session")
	}
}

// TestProtectHandshakeTransfersMissingBlocksBothWays exercises the
// symmetric-delta scenario: A and B each already hold an exchange block
// from a prior session with a third peer, unknown to the other, before
// ever running PROTECT with each other. After A and B complete PROTECT,
// each side's store must additionally hold the blocks the other
// disclosed (spec.md's "transfers the missing blocks both ways").
func TestProtectHandshakeTransfersMissingBlocksBothWays(t *testing.T) {
	agentA, _ := newTestAgent(t)
	agentB, _ := newTestAgent(t)
	agentC, _ := newTestAgent(t)
	agentD, _ := newTestAgent(t)

	agentA.transport = &loopbackTransport{peer: agentC}
	agentC.transport = &loopbackTransport{peer: agentA}
	agentA.RequestProtect(context.Background(), "c-addr", agentC.PublicKey())

	agentB.transport = &loopbackTransport{peer: agentD}
	agentD.transport = &loopbackTransport{peer: agentB}
	agentB.RequestProtect(context.Background(), "d-addr", agentD.PublicKey())

	chainA, err := agentA.store.GetChain(agentA.PublicKey())
	if err != nil {
		t.Fatalf("get chain A: %v", err)
	}
	chainB, err := agentB.store.GetChain(agentB.PublicKey())
	if err != nil {
		t.Fatalf("get chain B: %v", err)
	}
	if len(chainA) < 2 || len(chainB) < 2 {
		t.Fatalf("expected both A and B to have minted an exchange block with a third peer first, got %d and %d", len(chainA), len(chainB))
	}

	agentA.transport = &loopbackTransport{peer: agentB}
	agentB.transport = &loopbackTransport{peer: agentA}
	agentA.RequestProtect(context.Background(), "b-addr", agentB.PublicKey())

	chainAFromB, err := agentB.store.GetChain(agentA.PublicKey())
	if err != nil {
		t.Fatalf("get chain A as seen by B: %v", err)
	}
	if len(chainAFromB) < len(chainA) {
		t.Fatalf("expected B to have learned A's full prior chain, got %d blocks, want at least %d", len(chainAFromB), len(chainA))
	}

	chainBFromA, err := agentA.store.GetChain(agentB.PublicKey())
	if err != nil {
		t.Fatalf("get chain B as seen by A: %v", err)
	}
	if len(chainBFromA) < len(chainB) {
		t.Fatalf("expected A to have learned B's full prior chain, got %d blocks, want at least %d", len(chainBFromA), len(chainB))
	}
}

func TestProtectIgnoredSenderIsRejected(t *testing.T) {
	responder, _ := newTestAgent(t)
	transport := &recordingTransport{}
	responder.transport = transport

	initPriv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f, err := chain.NewFactory(initPriv)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	if err := responder.store.Ignore(f.PublicKey(), "prior fraud"); err != nil {
		t.Fatalf("ignore: %v", err)
	}
	genesis, err := f.CreateGenesis()
	if err != nil {
		t.Fatalf("create genesis: %v", err)
	}
	wireBlocks, err := wire.BlocksToWire([]*chain.Block{genesis})
	if err != nil {
		t.Fatalf("encode blocks: %v", err)
	}
	env := &wire.Envelope{
		Type:     wire.ProtectChain,
		Database: &wire.Database{Info: wire.AgentInfo{PublicKey: f.PublicKey()}, Blocks: wireBlocks},
	}

	responder.handleProtectChain(context.Background(), "ignored-peer", env)

	if len(transport.sent) != 1 || transport.sent[0].Type != wire.ProtectReject {
		t.Fatalf("expected a PROTECT_REJECT for an ignored sender, got %+v", transport.sent)
	}
	if _, open := responder.cache.Get("ignored-peer"); open {
		t.Fatal("an ignored sender must not get a session")
	}
}

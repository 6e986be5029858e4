package rpc

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/internal/config"
	"github.com/trustmesh-net/trustchaind/internal/store"
	"github.com/trustmesh-net/trustchaind/internal/wire"
	"github.com/trustmesh-net/trustchaind/pkg/helpers"
	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

type discardTransport struct{}

func (discardTransport) Send(ctx context.Context, address string, env *wire.Envelope) error {
	return nil
}

type noPeers struct{}

func (noPeers) Peers() []agent.Peer { return nil }

func newTestIntrospection(t *testing.T) (*Introspection, *agent.Agent, *store.Store, crypto.PrivKey) {
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

	cfg := config.AgentConfig{
		StepInterval:                  time.Second,
		RequestCacheTimeoutMultiplier: 10,
	}
	ag, err := agent.New(priv, "test-addr", st, discardTransport{}, noPeers{}, cfg, agent.Options{}, logging.Default())
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	s := NewServer(logging.Default())
	in := NewIntrospection(s, ag, st)
	return in, ag, st, priv
}

func TestAgentInfoReportsIdentityAndAddress(t *testing.T) {
	in, ag, _, _ := newTestIntrospection(t)

	result, err := in.agentInfo(context.Background(), nil)
	if err != nil {
		t.Fatalf("agentInfo: %v", err)
	}
	info := result.(wire.AgentInfo)
	if string(info.PublicKey) != string(ag.PublicKey()) {
		t.Fatalf("public key mismatch")
	}
	if info.Address != "test-addr" {
		t.Fatalf("address = %q, want test-addr", info.Address)
	}
}

func TestChainGetReturnsStoredGenesis(t *testing.T) {
	in, ag, _, _ := newTestIntrospection(t)

	params, err := json.Marshal(pkParams{PublicKey: helpers.BytesToHex(ag.PublicKey())})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}

	result, err := in.chainGet(context.Background(), params)
	if err != nil {
		t.Fatalf("chainGet: %v", err)
	}
	out := result.(struct {
		Chain []wire.Block `json:"chain"`
	})
	if len(out.Chain) != 1 {
		t.Fatalf("expected a single genesis block, got %d", len(out.Chain))
	}
	if out.Chain[0].SequenceNumber != 1 {
		t.Fatalf("expected sequence number 1, got %d", out.Chain[0].SequenceNumber)
	}
}

func TestIndexGetFoldsOwnGenesisSequence(t *testing.T) {
	in, ag, _, _ := newTestIntrospection(t)

	params, err := json.Marshal(pkParams{PublicKey: helpers.BytesToHex(ag.PublicKey())})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}

	result, err := in.indexGet(context.Background(), params)
	if err != nil {
		t.Fatalf("indexGet: %v", err)
	}
	idx := result.(wire.BlockIndex)
	if len(idx.Entries) != 1 || len(idx.Entries[0].SequenceNumbers) != 1 || idx.Entries[0].SequenceNumbers[0] != 1 {
		t.Fatalf("unexpected index contents: %+v", idx)
	}
}

func TestIgnoreListReflectsStoredEntries(t *testing.T) {
	in, _, st, _ := newTestIntrospection(t)

	blocked := []byte("a blocked peer's public key")
	if err := st.Ignore(blocked, "test"); err != nil {
		t.Fatalf("ignore: %v", err)
	}

	result, err := in.ignoreList(context.Background(), nil)
	if err != nil {
		t.Fatalf("ignoreList: %v", err)
	}
	out := result.(struct {
		Ignored []string `json:"ignored"`
	})
	if len(out.Ignored) != 1 || out.Ignored[0] != helpers.BytesToHex(blocked) {
		t.Fatalf("unexpected ignore list: %+v", out.Ignored)
	}
}

func TestRequestCacheListIsEmptyWithNoInFlightSessions(t *testing.T) {
	in, _, _, _ := newTestIntrospection(t)

	result, err := in.requestCacheList(context.Background(), nil)
	if err != nil {
		t.Fatalf("requestCacheList: %v", err)
	}
	out := result.(struct {
		Sessions []sessionView `json:"sessions"`
	})
	if len(out.Sessions) != 0 {
		t.Fatalf("expected no open sessions, got %+v", out.Sessions)
	}
}

func TestStoreStatsCountsGenesisBlock(t *testing.T) {
	in, _, _, _ := newTestIntrospection(t)

	result, err := in.storeStats(context.Background(), nil)
	if err != nil {
		t.Fatalf("storeStats: %v", err)
	}
	out := result.(struct {
		BlockCount       int `json:"block_count"`
		ExchangeKeyCount int `json:"exchange_key_count"`
		IgnoredPeerCount int `json:"ignored_peer_count"`
		KnownPeerCount   int `json:"known_peer_count"`
	})
	if out.BlockCount != 1 {
		t.Fatalf("expected block_count 1, got %d", out.BlockCount)
	}
}

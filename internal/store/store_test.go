package store

import (
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/trustmesh-net/trustchaind/internal/chain"
	"github.com/trustmesh-net/trustchaind/internal/index"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "trustchain-store-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(&Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestFactory(t *testing.T) *chain.Factory {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	f, err := chain.NewFactory(priv)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return f
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("DB() returned nil")
	}
}

func TestSchema(t *testing.T) {
	s := newTestStore(t)
	for _, table := range []string{"blocks", "exchange_storage", "ignore_list", "known_peers", "settings"} {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}
}

func TestCreateGenesisIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	priv, _, _ := crypto.GenerateEd25519Key(rand.Reader)

	g1, err := s.CreateGenesis(priv)
	if err != nil {
		t.Fatalf("CreateGenesis: %v", err)
	}
	g2, err := s.CreateGenesis(priv)
	if err != nil {
		t.Fatalf("CreateGenesis (second call): %v", err)
	}
	if string(g1.Hash()) != string(g2.Hash()) {
		t.Error("CreateGenesis should be idempotent and return the same block")
	}

	gotChain, err := s.GetChain(g1.PublicKey)
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if len(gotChain) != 1 {
		t.Fatalf("GetChain returned %d blocks, want 1", len(gotChain))
	}
}

func TestAddIsIdempotentOnConflict(t *testing.T) {
	s := newTestStore(t)
	f := newTestFactory(t)
	genesis, _ := f.CreateGenesis()

	if err := s.Add(genesis); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(genesis); err != nil {
		t.Fatalf("Add (duplicate): %v", err)
	}

	all, err := s.GetAllBlocks()
	if err != nil {
		t.Fatalf("GetAllBlocks: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("GetAllBlocks returned %d blocks, want 1", len(all))
	}
}

func TestGetChainStopsAtGap(t *testing.T) {
	s := newTestStore(t)
	f := newTestFactory(t)
	genesis, _ := f.CreateGenesis()
	second, _ := f.CreateNew(genesis, nil, chain.Transaction{Payload: []byte("a")})
	third, _ := f.CreateNew(second, nil, chain.Transaction{Payload: []byte("b")})

	if err := s.Add(genesis); err != nil {
		t.Fatalf("Add(genesis): %v", err)
	}
	// Deliberately skip `second` to create a gap.
	if err := s.Add(third); err != nil {
		t.Fatalf("Add(third): %v", err)
	}

	got, err := s.GetChain(f.PublicKey())
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetChain returned %d blocks across a gap, want 1 (genesis only)", len(got))
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get([]byte("nobody"), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get should report ok=false for a missing block")
	}
}

func TestIndexOmitsMissingEntries(t *testing.T) {
	s := newTestStore(t)
	f := newTestFactory(t)
	genesis, _ := f.CreateGenesis()
	if err := s.Add(genesis); err != nil {
		t.Fatalf("Add: %v", err)
	}

	idx := index.New()
	idx.Add(f.PublicKey(), 1)
	idx.Add(f.PublicKey(), 2) // never stored

	blocks, err := s.Index(idx)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("Index returned %d blocks, want 1 (missing entry omitted)", len(blocks))
	}
}

func TestExchangeStorageRoundtrip(t *testing.T) {
	s := newTestStore(t)
	f := newTestFactory(t)
	genesis, _ := f.CreateGenesis()

	idx := index.New()
	idx.Add([]byte("peer"), 1)
	idx.Add([]byte("peer"), 2)

	if err := s.AddExchange(genesis.Hash(), idx); err != nil {
		t.Fatalf("AddExchange: %v", err)
	}
	got, ok, err := s.GetExchange(genesis.Hash())
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if !ok {
		t.Fatal("GetExchange should find the recorded entry")
	}
	if seqs := got.Get([]byte("peer")); len(seqs) != 2 {
		t.Errorf("GetExchange index = %v, want 2 entries", seqs)
	}

	msg, err := s.AsMessage()
	if err != nil {
		t.Fatalf("AsMessage: %v", err)
	}
	if len(msg.Entries) != 1 {
		t.Fatalf("AsMessage returned %d entries, want 1", len(msg.Entries))
	}
	rebuilt := FromMessage(msg)
	if seqs := rebuilt.Get([]byte("peer")); len(seqs) != 2 {
		t.Errorf("FromMessage index = %v, want 2 entries", seqs)
	}
}

func TestIgnoreList(t *testing.T) {
	s := newTestStore(t)
	pk := []byte("bad-actor")

	ignored, err := s.IsIgnored(pk)
	if err != nil {
		t.Fatalf("IsIgnored: %v", err)
	}
	if ignored {
		t.Error("key should not be ignored before Ignore() is called")
	}

	if err := s.Ignore(pk, "protocol violation"); err != nil {
		t.Fatalf("Ignore: %v", err)
	}
	if err := s.Ignore(pk, "repeat"); err != nil {
		t.Fatalf("Ignore (duplicate): %v", err)
	}

	ignored, err = s.IsIgnored(pk)
	if err != nil {
		t.Fatalf("IsIgnored: %v", err)
	}
	if !ignored {
		t.Error("key should be ignored after Ignore() is called")
	}

	keys, err := s.IgnoredKeys()
	if err != nil {
		t.Fatalf("IgnoredKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("IgnoredKeys returned %d entries, want 1", len(keys))
	}
}

func TestKnownPeerCRUD(t *testing.T) {
	s := newTestStore(t)

	peer := KnownPeer{PeerID: "12D3KooW...", Addresses: []string{"/ip4/1.2.3.4/tcp/4001"}}
	if err := s.SaveKnownPeer(peer); err != nil {
		t.Fatalf("SaveKnownPeer: %v", err)
	}
	if err := s.SaveKnownPeer(peer); err != nil {
		t.Fatalf("SaveKnownPeer (again): %v", err)
	}

	recent, err := s.ListRecentPeers(time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListRecentPeers: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("ListRecentPeers returned %d peers, want 1", len(recent))
	}
	if recent[0].ConnectionCount != 2 {
		t.Errorf("ConnectionCount = %d, want 2 after two saves", recent[0].ConnectionCount)
	}

	count, err := s.PeerCount()
	if err != nil {
		t.Fatalf("PeerCount: %v", err)
	}
	if count != 1 {
		t.Errorf("PeerCount = %d, want 1", count)
	}

	if err := s.UpdatePeerSeen(peer.PeerID); err != nil {
		t.Fatalf("UpdatePeerSeen: %v", err)
	}
}

func TestKnownPeerPublicKeyLearnedAndRetained(t *testing.T) {
	s := newTestStore(t)

	peerID := "12D3KooWPubKeyTest"
	if err := s.SaveKnownPeer(KnownPeer{PeerID: peerID, Addresses: []string{"/ip4/1.2.3.4/tcp/4001"}}); err != nil {
		t.Fatalf("SaveKnownPeer (no key yet): %v", err)
	}

	pk := []byte("a marshaled public key")
	if err := s.SaveKnownPeer(KnownPeer{PeerID: peerID, Addresses: []string{"/ip4/1.2.3.4/tcp/4001"}, PublicKey: pk}); err != nil {
		t.Fatalf("SaveKnownPeer (learned key): %v", err)
	}

	recent, err := s.ListRecentPeers(time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListRecentPeers: %v", err)
	}
	if len(recent) != 1 || string(recent[0].PublicKey) != string(pk) {
		t.Fatalf("expected the learned public key to stick, got %+v", recent)
	}

	// A later save with no public key must not clobber the one already learned.
	if err := s.SaveKnownPeer(KnownPeer{PeerID: peerID, Addresses: []string{"/ip4/1.2.3.4/tcp/4001"}}); err != nil {
		t.Fatalf("SaveKnownPeer (no key again): %v", err)
	}
	recent, err = s.ListRecentPeers(time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListRecentPeers: %v", err)
	}
	if len(recent) != 1 || string(recent[0].PublicKey) != string(pk) {
		t.Fatalf("expected public key to be retained across a key-less save, got %+v", recent)
	}
}

package node

import (
	"os"
	"testing"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "trustchain-node-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.New(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestKnownPeerSourceSkipsPeersWithoutAPublicKey(t *testing.T) {
	st := newTestStore(t)
	src := &knownPeerSource{store: st}

	if err := st.SaveKnownPeer(store.KnownPeer{PeerID: "peer-no-key", Addresses: []string{"/ip4/1.2.3.4/tcp/4001"}}); err != nil {
		t.Fatalf("save known peer: %v", err)
	}
	if err := st.SaveKnownPeer(store.KnownPeer{
		PeerID:    "peer-with-key",
		Addresses: []string{"/ip4/1.2.3.5/tcp/4001"},
		PublicKey: []byte("a known public key"),
	}); err != nil {
		t.Fatalf("save known peer: %v", err)
	}

	got := src.Peers()
	if len(got) != 1 {
		t.Fatalf("expected only the peer with a learned public key, got %+v", got)
	}
	want := agent.Peer{Address: "peer-with-key", PublicKey: []byte("a known public key")}
	if got[0].Address != want.Address || string(got[0].PublicKey) != string(want.PublicKey) {
		t.Fatalf("got %+v, want %+v", got[0], want)
	}
}

type staticPeerSource struct{ peers []agent.Peer }

func (s staticPeerSource) Peers() []agent.Peer { return s.peers }

func TestCompositePeerSourceDedupesByPublicKey(t *testing.T) {
	src := &compositePeerSource{sources: []agent.PeerSource{
		staticPeerSource{peers: []agent.Peer{
			{Address: "known-addr", PublicKey: []byte("shared-key")},
			{Address: "known-only-addr", PublicKey: []byte("known-only-key")},
		}},
		staticPeerSource{peers: []agent.Peer{
			{Address: "directory-addr", PublicKey: []byte("shared-key")},
			{Address: "directory-only-addr", PublicKey: []byte("directory-only-key")},
		}},
	}}

	got := src.Peers()
	if len(got) != 3 {
		t.Fatalf("expected 3 deduplicated peers, got %+v", got)
	}

	seen := make(map[string]string)
	for _, p := range got {
		seen[string(p.PublicKey)] = p.Address
	}
	if seen["shared-key"] != "known-addr" {
		t.Fatalf("expected the first source's entry to win for a shared key, got %q", seen["shared-key"])
	}
	if seen["known-only-key"] != "known-only-addr" || seen["directory-only-key"] != "directory-only-addr" {
		t.Fatalf("expected both sources' unique peers to survive, got %+v", seen)
	}
}

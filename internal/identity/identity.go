// Package identity loads or mints the Ed25519 key pair an agent signs
// blocks with and advertises itself as on the network. The same key
// pair is both the libp2p host identity and the TrustChain "public_key"
// (spec.md §3): there is no separate swap-wallet key hierarchy here.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity bundles a loaded or freshly-minted key pair with its
// derivative forms.
type Identity struct {
	PrivateKey crypto.PrivKey
	PublicKey  crypto.PubKey

	// Marshaled is the raw marshaled public key bytes: the agent's
	// identity as carried in every Block and AgentInfo record.
	Marshaled []byte

	// PeerID is the libp2p peer ID derived from PublicKey, used only for
	// transport addressing and display (spec.md §3's Open Question
	// resolution: identity is the raw key, not the peer ID string).
	PeerID peer.ID
}

// LoadOrCreate reads the Ed25519 private key at keyPath, generating and
// persisting a new one if none exists yet (adapted from the teacher's
// node-identity bootstrap; grounded on internal/node/node.go's
// loadOrCreateKey).
func LoadOrCreate(keyPath string) (*Identity, error) {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	var priv crypto.PrivKey
	if data, err := os.ReadFile(keyPath); err == nil {
		priv, err = crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal stored key: %w", err)
		}
	} else {
		priv, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
		data, err := crypto.MarshalPrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("marshal identity key: %w", err)
		}
		if err := os.WriteFile(keyPath, data, 0600); err != nil {
			return nil, fmt.Errorf("persist identity key: %w", err)
		}
	}

	return fromPrivateKey(priv)
}

func fromPrivateKey(priv crypto.PrivKey) (*Identity, error) {
	pub := priv.GetPublic()
	marshaled, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("derive peer ID: %w", err)
	}
	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		Marshaled:  marshaled,
		PeerID:     pid,
	}, nil
}

// Readable returns a filesystem- and log-safe rendering of the agent's
// public key, used for data/<readable>.json (spec.md §6 Persistence).
func (id *Identity) Readable() string {
	return id.PeerID.String()
}

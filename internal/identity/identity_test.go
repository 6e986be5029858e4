package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "identity.key")

	id1, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if len(id1.Marshaled) == 0 {
		t.Error("Marshaled public key should not be empty")
	}
	if id1.PeerID.String() == "" {
		t.Error("PeerID should not be empty")
	}
	if _, err := os.Stat(keyPath); err != nil {
		t.Errorf("key file should have been persisted: %v", err)
	}

	id2, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreate (reload): %v", err)
	}
	if string(id1.Marshaled) != string(id2.Marshaled) {
		t.Error("reloading an existing key must yield the same identity")
	}
	if id1.PeerID != id2.PeerID {
		t.Error("reloading an existing key must yield the same peer ID")
	}
}

func TestLoadOrCreateDistinctKeysPerPath(t *testing.T) {
	dir := t.TempDir()
	id1, err := LoadOrCreate(filepath.Join(dir, "a.key"))
	if err != nil {
		t.Fatalf("LoadOrCreate(a): %v", err)
	}
	id2, err := LoadOrCreate(filepath.Join(dir, "b.key"))
	if err != nil {
		t.Fatalf("LoadOrCreate(b): %v", err)
	}
	if id1.PeerID == id2.PeerID {
		t.Error("two different key files should not yield the same peer ID")
	}
}

func TestReadable(t *testing.T) {
	dir := t.TempDir()
	id, err := LoadOrCreate(filepath.Join(dir, "identity.key"))
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.Readable() != id.PeerID.String() {
		t.Errorf("Readable() = %q, want %q", id.Readable(), id.PeerID.String())
	}
}

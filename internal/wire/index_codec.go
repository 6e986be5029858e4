package wire

import "github.com/trustmesh-net/trustchaind/internal/index"

// IndexToWire packs idx into its canonical wire form (spec.md §6.3: raw
// public-key bytes, not hex — see DESIGN.md's Open Question resolution).
func IndexToWire(idx *index.BlockIndex) BlockIndex {
	packed := idx.Pack()
	entries := make([]BlockIndexEntry, len(packed))
	for i, e := range packed {
		entries[i] = BlockIndexEntry{PublicKey: e.PublicKey, SequenceNumbers: e.SequenceNumbers}
	}
	return BlockIndex{Entries: entries}
}

// IndexFromWire rebuilds a BlockIndex from its wire projection.
func IndexFromWire(w BlockIndex) *index.BlockIndex {
	entries := make([]index.Entry, len(w.Entries))
	for i, e := range w.Entries {
		entries[i] = index.Entry{PublicKey: e.PublicKey, SequenceNumbers: e.SequenceNumbers}
	}
	return index.FromEntries(entries)
}

// Package index implements BlockIndex, the set-valued map at the heart of
// the PROTECT audit: agent identity -> sorted set of sequence numbers.
package index

import (
	"sort"

	"github.com/trustmesh-net/trustchaind/pkg/helpers"
)

// BlockIndex maps a creator's public key to the set of sequence numbers
// this index claims that creator has. Union and Difference return a new
// BlockIndex rather than mutating either operand, which keeps it safe to
// share between the request cache and exchange storage without defensive
// copying at every call site; Add mutates the index in place and is used
// while building one.
type BlockIndex struct {
	entries map[string]map[int32]struct{}
}

// New returns an empty BlockIndex.
func New() *BlockIndex {
	return &BlockIndex{entries: make(map[string]map[int32]struct{})}
}

// Add folds a single (public_key, sequence_number) pair into the index.
func (idx *BlockIndex) Add(pk []byte, seq int32) {
	k := string(pk)
	set, ok := idx.entries[k]
	if !ok {
		set = make(map[int32]struct{})
		idx.entries[k] = set
	}
	set[seq] = struct{}{}
}

// Get returns the sorted sequence numbers known for pk, or nil if pk has
// no entry.
func (idx *BlockIndex) Get(pk []byte) []int32 {
	set, ok := idx.entries[string(pk)]
	if !ok || len(set) == 0 {
		return nil
	}
	return sortedSeqs(set)
}

// Keys returns every public key with a non-empty entry, sorted
// lexicographically by raw bytes.
func (idx *BlockIndex) Keys() [][]byte {
	keys := make([][]byte, 0, len(idx.entries))
	for k, set := range idx.entries {
		if len(set) == 0 {
			continue
		}
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return helpers.CompareBytes(keys[i], keys[j]) < 0 })
	return keys
}

// NumKeys returns the number of creators with a non-empty entry.
func (idx *BlockIndex) NumKeys() int {
	n := 0
	for _, set := range idx.entries {
		if len(set) > 0 {
			n++
		}
	}
	return n
}

// Entry is the canonical (public_key, sequence_numbers) pair used both on
// the wire (§6.3) and inside an exchange block's transaction payload.
type Entry struct {
	PublicKey       []byte
	SequenceNumbers []int32
}

// Pack returns the canonical representation: entries sorted by key, each
// key's sequence numbers sorted ascending with duplicates removed. Empty
// entries are elided.
func (idx *BlockIndex) Pack() []Entry {
	keys := idx.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{PublicKey: k, SequenceNumbers: idx.Get(k)})
	}
	return out
}

// FromEntries rebuilds a BlockIndex from its wire projection.
func FromEntries(entries []Entry) *BlockIndex {
	idx := New()
	for _, e := range entries {
		for _, seq := range e.SequenceNumbers {
			idx.Add(e.PublicKey, seq)
		}
	}
	return idx
}

// PkSeq is a single (public_key, sequence_number) pair, the flattened
// shape BlockStore.index() and batched lookups consume.
type PkSeq struct {
	PublicKey      []byte
	SequenceNumber int32
}

// ToDatabaseArgs flattens the index to a list of (pk, seq) pairs for bulk
// lookup against a BlockStore.
func (idx *BlockIndex) ToDatabaseArgs() []PkSeq {
	var out []PkSeq
	for _, k := range idx.Keys() {
		for _, seq := range idx.Get(k) {
			out = append(out, PkSeq{PublicKey: k, SequenceNumber: seq})
		}
	}
	return out
}

// Union computes A ∪ B: for keys present in both, the union of sequence
// numbers; keys present in only one side pass through unchanged.
func Union(a, b *BlockIndex) *BlockIndex {
	out := New()
	for k, set := range a.entries {
		for seq := range set {
			out.Add([]byte(k), seq)
		}
	}
	for k, set := range b.entries {
		for seq := range set {
			out.Add([]byte(k), seq)
		}
	}
	return out
}

// Difference computes A \ B per spec.md §4.1: for keys present in both, the
// set difference (if non-empty); keys present only in A pass through;
// keys present only in B are dropped.
func Difference(a, b *BlockIndex) *BlockIndex {
	out := New()
	for k, aSet := range a.entries {
		bSet, inB := b.entries[k]
		for seq := range aSet {
			if inB {
				if _, excluded := bSet[seq]; excluded {
					continue
				}
			}
			out.Add([]byte(k), seq)
		}
	}
	return out
}

// ChainBlock is the minimal view of a stored block that from_chain/
// from_blocks needs. chain.Block implements this directly; keeping the
// interface here (rather than importing the chain package) avoids a
// cyclic dependency since chain.Block's transaction payload embeds a
// BlockIndex.
type ChainBlock interface {
	CreatorKey() []byte
	SeqNo() int32
	IsProposalHalf() bool
	ExchangeTransfer() (up, down *BlockIndex)
}

// FromBlocks builds a BlockIndex from a flat set of concrete blocks:
// {pk -> {seq_no of each block with that pk}}.
func FromBlocks(blocks []ChainBlock) *BlockIndex {
	idx := New()
	for _, b := range blocks {
		idx.Add(b.CreatorKey(), b.SeqNo())
	}
	return idx
}

// FromChain builds a BlockIndex from a creator's full chain: the flat
// per-creator sequence set, plus for every exchange block in the chain the
// transfer_up (if it's a proposal half) or transfer_down (if it's the
// agreement half) index folded in via union.
func FromChain(blocks []ChainBlock) *BlockIndex {
	idx := FromBlocks(blocks)
	for _, b := range blocks {
		up, down := b.ExchangeTransfer()
		var transfer *BlockIndex
		if b.IsProposalHalf() {
			transfer = up
		} else {
			transfer = down
		}
		if transfer != nil {
			idx = Union(idx, transfer)
		}
	}
	return idx
}

func sortedSeqs(set map[int32]struct{}) []int32 {
	out := make([]int32, 0, len(set))
	for seq := range set {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

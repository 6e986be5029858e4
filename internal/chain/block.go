// Package chain implements the TrustChain block primitive: immutable,
// signed, hash-linked records and the invariants a valid chain must
// satisfy (spec.md §3/§4.2/§4.3).
package chain

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/trustmesh-net/trustchaind/internal/index"
)

// SeqUnknown is the sentinel link_sequence_number carried by a proposal
// half-block, filled in by the agreement half.
const SeqUnknown int32 = 0

// HashSize is the length, in bytes, of a block hash and of the genesis
// sentinel previous_hash.
const HashSize = 32

// GenesisPreviousHash is the fixed sentinel previous_hash carried by
// sequence-1 (genesis) blocks.
var GenesisPreviousHash = bytes.Repeat([]byte{0}, HashSize)

// Transaction is a block's opaque payload. For ordinary interaction
// blocks Payload carries application bytes (empty for base proposal/
// agreement blocks); for exchange blocks TransferUp/TransferDown carry
// the two BlockIndexes the PROTECT session computed (spec.md §4.6).
type Transaction struct {
	Payload      []byte
	TransferUp   *index.BlockIndex
	TransferDown *index.BlockIndex
}

// IsExchange reports whether this transaction is an exchange block's
// payload (as opposed to an opaque interaction payload).
func (tx Transaction) IsExchange() bool {
	return tx.TransferUp != nil || tx.TransferDown != nil
}

// Equal reports whether two transactions carry identical bytes, the
// comparison I3 requires between a proposal and its agreement half.
func (tx Transaction) Equal(other Transaction) bool {
	return bytes.Equal(tx.canonicalBytes(), other.canonicalBytes())
}

// canonicalBytes is the deterministic encoding a transaction contributes
// to a block's signed byte string (spec.md §9: the payload codec must be
// language-neutral and deterministic, not a pickle). Exchange payloads
// encode transfer_up then transfer_down as packed BlockIndex entries;
// ordinary payloads are passed through as-is.
func (tx Transaction) canonicalBytes() []byte {
	var buf bytes.Buffer
	if tx.IsExchange() {
		buf.WriteByte(1)
		writeBlockIndex(&buf, tx.TransferUp)
		writeBlockIndex(&buf, tx.TransferDown)
		return buf.Bytes()
	}
	buf.WriteByte(0)
	buf.Write(tx.Payload)
	return buf.Bytes()
}

func writeBlockIndex(buf *bytes.Buffer, idx *index.BlockIndex) {
	if idx == nil {
		writeUvarint(buf, 0)
		return
	}
	entries := idx.Pack()
	writeUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		writeUvarint(buf, uint64(len(e.PublicKey)))
		buf.Write(e.PublicKey)
		writeUvarint(buf, uint64(len(e.SequenceNumbers)))
		for _, seq := range e.SequenceNumbers {
			var tmp [binary.MaxVarintLen32]byte
			n := binary.PutVarint(tmp[:], int64(seq))
			buf.Write(tmp[:n])
		}
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// Block is an immutable, signed, hash-linked record in an agent's chain
// (spec.md §3). Fields are set once at construction by a Factory and
// never mutated afterward.
type Block struct {
	PublicKey          []byte
	SequenceNumber     int32
	LinkPublicKey      []byte
	LinkSequenceNumber int32
	PreviousHash       []byte
	Signature          []byte
	Transaction        Transaction
}

// CreatorKey, SeqNo, IsProposalHalf, and ExchangeTransfer satisfy
// index.ChainBlock, letting BlockIndex fold exchange transfers out of a
// chain without the index package importing chain (which would cycle,
// since Transaction embeds a *index.BlockIndex).
func (b *Block) CreatorKey() []byte { return b.PublicKey }
func (b *Block) SeqNo() int32       { return b.SequenceNumber }
func (b *Block) IsProposalHalf() bool {
	return b.LinkSequenceNumber == SeqUnknown
}
func (b *Block) ExchangeTransfer() (up, down *index.BlockIndex) {
	return b.Transaction.TransferUp, b.Transaction.TransferDown
}

// IsGenesis reports whether this is a creator's first block.
func (b *Block) IsGenesis() bool {
	return b.SequenceNumber == 1
}

// signedBytes is the canonical byte string a block's signature covers and
// its hash is taken over (spec.md §6.4): every field except the signature
// itself, concatenated in a fixed order.
func (b *Block) signedBytes() []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(b.PublicKey)))
	buf.Write(b.PublicKey)
	writeVarint(&buf, int64(b.SequenceNumber))
	writeUvarint(&buf, uint64(len(b.LinkPublicKey)))
	buf.Write(b.LinkPublicKey)
	writeVarint(&buf, int64(b.LinkSequenceNumber))
	buf.Write(b.PreviousHash)
	buf.Write(b.Transaction.canonicalBytes())
	return buf.Bytes()
}

func writeVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// Hash returns this block's content hash (SHA3-256 of its signed bytes),
// used as the next block's previous_hash and as the ExchangeStorage key.
func (b *Block) Hash() []byte {
	h := sha3.Sum256(b.signedBytes())
	return h[:]
}

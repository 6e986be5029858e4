package chain

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// Factory mints new blocks on behalf of a single identity, grounded on
// spec.md §4.3's create_new/create_linked contract.
type Factory struct {
	priv   crypto.PrivKey
	pubKey []byte
}

// NewFactory builds a Factory that signs with priv.
func NewFactory(priv crypto.PrivKey) (*Factory, error) {
	pub, err := crypto.MarshalPublicKey(priv.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &Factory{priv: priv, pubKey: pub}, nil
}

// PublicKey returns the marshaled public key this factory signs as.
func (f *Factory) PublicKey() []byte { return f.pubKey }

// CreateGenesis mints sequence-1, the first block of this identity's chain.
func (f *Factory) CreateGenesis() (*Block, error) {
	return f.mint(nil, SeqUnknown, GenesisPreviousHash, 1, Transaction{})
}

// CreateNew mints the next block of our own chain on top of tip (nil picks
// genesis): a plain interaction block, or if partnerKey is non-nil, a
// proposal half-block addressed to it (link_sequence_number left at
// SeqUnknown until the partner agrees).
func (f *Factory) CreateNew(tip *Block, partnerKey []byte, tx Transaction) (*Block, error) {
	seq, prevHash := nextSeqAndPrevHash(tip)
	return f.mint(partnerKey, SeqUnknown, prevHash, seq, tx)
}

// CreateLinked mints the agreement half-block that closes out proposal,
// binding back to its exact sequence number and transaction per I3.
func (f *Factory) CreateLinked(tip *Block, proposal *Block) (*Block, error) {
	seq, prevHash := nextSeqAndPrevHash(tip)
	return f.mint(proposal.PublicKey, proposal.SequenceNumber, prevHash, seq, proposal.Transaction)
}

func nextSeqAndPrevHash(tip *Block) (int32, []byte) {
	if tip == nil {
		return 1, GenesisPreviousHash
	}
	return tip.SequenceNumber + 1, tip.Hash()
}

func (f *Factory) mint(linkKey []byte, linkSeq int32, prevHash []byte, seq int32, tx Transaction) (*Block, error) {
	b := &Block{
		PublicKey:          f.pubKey,
		SequenceNumber:     seq,
		LinkPublicKey:      linkKey,
		LinkSequenceNumber: linkSeq,
		PreviousHash:       prevHash,
		Transaction:        tx,
	}
	sig, err := f.priv.Sign(b.signedBytes())
	if err != nil {
		return nil, fmt.Errorf("sign block: %w", err)
	}
	b.Signature = sig
	return b, nil
}

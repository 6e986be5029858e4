package chain

import (
	"bytes"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// VerifySignature reports whether b's signature verifies against pub.
func (b *Block) VerifySignature(pub crypto.PubKey) (bool, error) {
	return pub.Verify(b.signedBytes(), b.Signature)
}

// VerifyGenesis reports whether b is a well-formed genesis block: sequence
// number 1 with the sentinel previous_hash (I1/I2's base case).
func VerifyGenesis(b *Block) bool {
	return b.SequenceNumber == 1 && bytes.Equal(b.PreviousHash, GenesisPreviousHash)
}

// VerifyLink reports whether next correctly follows prev in the same
// creator's chain: I1 contiguous sequence numbers, I2 previous_hash
// chaining.
func VerifyLink(prev, next *Block) bool {
	if !bytes.Equal(prev.PublicKey, next.PublicKey) {
		return false
	}
	if next.SequenceNumber != prev.SequenceNumber+1 {
		return false
	}
	return bytes.Equal(next.PreviousHash, prev.Hash())
}

// VerifyChain walks blocks, which must already be sorted ascending by
// sequence number, and checks I1/I2 hold across the whole run.
func VerifyChain(blocks []*Block) bool {
	if len(blocks) == 0 {
		return true
	}
	if !VerifyGenesis(blocks[0]) {
		return false
	}
	for i := 1; i < len(blocks); i++ {
		if !VerifyLink(blocks[i-1], blocks[i]) {
			return false
		}
	}
	return true
}

// VerifyAgreement checks I3: an agreement half-block must reference its
// proposal's exact creator, sequence number, and carry an identical
// transaction.
func VerifyAgreement(proposal, agreement *Block) bool {
	if agreement.IsProposalHalf() {
		return false
	}
	if !bytes.Equal(agreement.LinkPublicKey, proposal.PublicKey) {
		return false
	}
	if agreement.LinkSequenceNumber != proposal.SequenceNumber {
		return false
	}
	return agreement.Transaction.Equal(proposal.Transaction)
}

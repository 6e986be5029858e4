package wire

import (
	"encoding/json"
	"fmt"

	"github.com/trustmesh-net/trustchaind/internal/chain"
)

// transactionPayload is the decoded form of a Block's opaque payload
// bytes: an ordinary interaction payload, or an exchange block's two
// transfer indices.
type transactionPayload struct {
	Payload      []byte      `json:"payload,omitempty"`
	TransferUp   *BlockIndex `json:"transfer_up,omitempty"`
	TransferDown *BlockIndex `json:"transfer_down,omitempty"`
}

// EncodeTransaction exposes the Block.Payload codec for callers (such as
// internal/store) that persist a transaction outside of a full envelope.
func EncodeTransaction(tx chain.Transaction) ([]byte, error) {
	return encodeTransaction(tx)
}

// DecodeTransaction is the inverse of EncodeTransaction.
func DecodeTransaction(raw []byte) (chain.Transaction, error) {
	return decodeTransaction(raw)
}

func encodeTransaction(tx chain.Transaction) ([]byte, error) {
	p := transactionPayload{Payload: tx.Payload}
	if tx.TransferUp != nil {
		w := IndexToWire(tx.TransferUp)
		p.TransferUp = &w
	}
	if tx.TransferDown != nil {
		w := IndexToWire(tx.TransferDown)
		p.TransferDown = &w
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode transaction payload: %w", err)
	}
	return data, nil
}

func decodeTransaction(raw []byte) (chain.Transaction, error) {
	if len(raw) == 0 {
		return chain.Transaction{}, nil
	}
	var p transactionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return chain.Transaction{}, fmt.Errorf("decode transaction payload: %w", err)
	}
	tx := chain.Transaction{Payload: p.Payload}
	if p.TransferUp != nil {
		tx.TransferUp = IndexFromWire(*p.TransferUp)
	}
	if p.TransferDown != nil {
		tx.TransferDown = IndexFromWire(*p.TransferDown)
	}
	return tx, nil
}

// BlockToWire converts a signed chain.Block to its wire representation.
func BlockToWire(b *chain.Block) (Block, error) {
	payload, err := encodeTransaction(b.Transaction)
	if err != nil {
		return Block{}, err
	}
	return Block{
		PublicKey:          b.PublicKey,
		SequenceNumber:     b.SequenceNumber,
		LinkPublicKey:      b.LinkPublicKey,
		LinkSequenceNumber: b.LinkSequenceNumber,
		PreviousHash:       b.PreviousHash,
		Signature:          b.Signature,
		Payload:            payload,
	}, nil
}

// BlockFromWire reconstructs a chain.Block from its wire representation.
// The signature is carried through unverified; callers must check it
// against the claimed public key before trusting the result.
func BlockFromWire(w Block) (*chain.Block, error) {
	tx, err := decodeTransaction(w.Payload)
	if err != nil {
		return nil, err
	}
	return &chain.Block{
		PublicKey:          w.PublicKey,
		SequenceNumber:     w.SequenceNumber,
		LinkPublicKey:      w.LinkPublicKey,
		LinkSequenceNumber: w.LinkSequenceNumber,
		PreviousHash:       w.PreviousHash,
		Signature:          w.Signature,
		Transaction:        tx,
	}, nil
}

// BlocksToWire converts a slice of blocks in chain order.
func BlocksToWire(blocks []*chain.Block) ([]Block, error) {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		wb, err := BlockToWire(b)
		if err != nil {
			return nil, err
		}
		out[i] = wb
	}
	return out, nil
}

// BlocksFromWire is the inverse of BlocksToWire.
func BlocksFromWire(blocks []Block) ([]*chain.Block, error) {
	out := make([]*chain.Block, len(blocks))
	for i, wb := range blocks {
		b, err := BlockFromWire(wb)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

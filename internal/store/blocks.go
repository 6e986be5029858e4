package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/trustmesh-net/trustchaind/internal/chain"
	"github.com/trustmesh-net/trustchaind/internal/index"
	"github.com/trustmesh-net/trustchaind/internal/wire"
)

// Add inserts block, keyed by (public_key, sequence_number). Idempotent:
// a conflicting insert is a no-op and keeps the first copy stored
// (spec.md §4.2).
func (s *Store) Add(block *chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := wire.EncodeTransaction(block.Transaction)
	if err != nil {
		return fmt.Errorf("encode block payload: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO blocks (public_key, sequence_number, link_public_key,
			link_sequence_number, previous_hash, signature, payload, hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))
		 ON CONFLICT(public_key, sequence_number) DO NOTHING`,
		block.PublicKey, block.SequenceNumber, nullableBytes(block.LinkPublicKey),
		block.LinkSequenceNumber, block.PreviousHash, block.Signature, payload, block.Hash(),
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// Get returns the block at (pk, seq), or ok=false if absent.
func (s *Store) Get(pk []byte, seq int32) (block *chain.Block, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT public_key, sequence_number, link_public_key, link_sequence_number,
			previous_hash, signature, payload
		 FROM blocks WHERE public_key = ? AND sequence_number = ?`,
		pk, seq,
	)
	block, err = scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return block, true, nil
}

// GetChain returns pk's blocks in order starting from sequence 1, up to
// the longest gap-free prefix (spec.md §4.2).
func (s *Store) GetChain(pk []byte) ([]*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT public_key, sequence_number, link_public_key, link_sequence_number,
			previous_hash, signature, payload
		 FROM blocks WHERE public_key = ? ORDER BY sequence_number ASC`,
		pk,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	var out []*chain.Block
	expected := int32(1)
	for rows.Next() {
		b, err := scanBlockRows(rows)
		if err != nil {
			return nil, err
		}
		if b.SequenceNumber != expected {
			break
		}
		out = append(out, b)
		expected++
	}
	return out, rows.Err()
}

// GetAllBlocks returns every stored block, ordered by creator then
// sequence number.
func (s *Store) GetAllBlocks() ([]*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT public_key, sequence_number, link_public_key, link_sequence_number,
			previous_hash, signature, payload
		 FROM blocks ORDER BY public_key ASC, sequence_number ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all blocks: %w", err)
	}
	defer rows.Close()

	var out []*chain.Block
	for rows.Next() {
		b, err := scanBlockRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Index returns every stored block whose (pk, seq) is listed in idx;
// entries listed in idx but missing from the store are simply omitted —
// the caller is responsible for noticing the gap (spec.md §4.2).
func (s *Store) Index(idx *index.BlockIndex) ([]*chain.Block, error) {
	var out []*chain.Block
	for _, arg := range idx.ToDatabaseArgs() {
		b, ok, err := s.Get(arg.PublicKey, arg.SequenceNumber)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// CreateGenesis mints and persists this agent's sequence-1 block, signed
// by priv, unless one already exists.
func (s *Store) CreateGenesis(priv crypto.PrivKey) (*chain.Block, error) {
	factory, err := chain.NewFactory(priv)
	if err != nil {
		return nil, err
	}
	if existing, ok, err := s.Get(factory.PublicKey(), 1); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}
	genesis, err := factory.CreateGenesis()
	if err != nil {
		return nil, fmt.Errorf("create genesis block: %w", err)
	}
	if err := s.Add(genesis); err != nil {
		return nil, err
	}
	return genesis, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row *sql.Row) (*chain.Block, error) {
	return scanGeneric(row)
}

func scanBlockRows(rows *sql.Rows) (*chain.Block, error) {
	return scanGeneric(rows)
}

func scanGeneric(r rowScanner) (*chain.Block, error) {
	var (
		pk, linkPk, prevHash, sig, payload []byte
		seq, linkSeq                      int32
	)
	if err := r.Scan(&pk, &seq, &linkPk, &linkSeq, &prevHash, &sig, &payload); err != nil {
		return nil, err
	}
	tx, err := wire.DecodeTransaction(payload)
	if err != nil {
		return nil, fmt.Errorf("decode stored block payload: %w", err)
	}
	return &chain.Block{
		PublicKey:          pk,
		SequenceNumber:     seq,
		LinkPublicKey:       linkPk,
		LinkSequenceNumber: linkSeq,
		PreviousHash:       prevHash,
		Signature:          sig,
		Transaction:        tx,
	}, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

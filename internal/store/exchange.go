package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trustmesh-net/trustchaind/internal/index"
	"github.com/trustmesh-net/trustchaind/internal/wire"
)

// AddExchange records hash(block) -> idx, the ledger of what was
// disclosed during a completed PROTECT session (spec.md §4.5).
func (s *Store) AddExchange(blockHash []byte, idx *index.BlockIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := marshalIndex(idx)
	if err != nil {
		return fmt.Errorf("encode exchange index: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO exchange_storage (block_hash, index_blob, created_at)
		 VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(block_hash) DO NOTHING`,
		blockHash, blob,
	)
	if err != nil {
		return fmt.Errorf("insert exchange entry: %w", err)
	}
	return nil
}

// GetExchange returns the index recorded for blockHash, or ok=false if
// absent.
func (s *Store) GetExchange(blockHash []byte) (idx *index.BlockIndex, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err = s.db.QueryRow(`SELECT index_blob FROM exchange_storage WHERE block_hash = ?`, blockHash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query exchange entry: %w", err)
	}
	idx, err = unmarshalIndex(blob)
	if err != nil {
		return nil, false, err
	}
	return idx, true, nil
}

// AllExchanges returns the union of every index this agent has recorded
// in its exchange storage, across every PROTECT session it has
// completed. The store_stats RPC reports it; message 3 rebuilds a
// partner's index from the partner's exchange message instead.
func (s *Store) AllExchanges() (*index.BlockIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT index_blob FROM exchange_storage`)
	if err != nil {
		return nil, fmt.Errorf("query exchange storage: %w", err)
	}
	defer rows.Close()

	out := index.New()
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		idx, err := unmarshalIndex(blob)
		if err != nil {
			return nil, err
		}
		out = index.Union(out, idx)
	}
	return out, rows.Err()
}

// AsMessage returns every recorded exchange entry in the wire shape
// spec.md §4.5 calls for: a list of (block_hash, BlockIndex) pairs.
func (s *Store) AsMessage() (wire.ExchangeIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT block_hash, index_blob FROM exchange_storage`)
	if err != nil {
		return wire.ExchangeIndex{}, fmt.Errorf("query exchange storage: %w", err)
	}
	defer rows.Close()

	var entries []wire.ExchangeIndexEntry
	for rows.Next() {
		var hash, blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return wire.ExchangeIndex{}, err
		}
		idx, err := unmarshalIndex(blob)
		if err != nil {
			return wire.ExchangeIndex{}, err
		}
		entries = append(entries, wire.ExchangeIndexEntry{BlockHash: hash, Index: wire.IndexToWire(idx)})
	}
	return wire.ExchangeIndex{Entries: entries}, rows.Err()
}

// FromMessage rebuilds the in-memory union this agent's exchange storage
// represents, from its wire projection (the inverse of AsMessage, used
// when a partner's ExchangeIndex arrives over PROTECT_INDEX_REPLY).
func FromMessage(msg wire.ExchangeIndex) *index.BlockIndex {
	out := index.New()
	for _, e := range msg.Entries {
		out = index.Union(out, wire.IndexFromWire(e.Index))
	}
	return out
}

func marshalIndex(idx *index.BlockIndex) ([]byte, error) {
	return json.Marshal(wire.IndexToWire(idx))
}

func unmarshalIndex(blob []byte) (*index.BlockIndex, error) {
	var w wire.BlockIndex
	if err := json.Unmarshal(blob, &w); err != nil {
		return nil, fmt.Errorf("decode stored index: %w", err)
	}
	return wire.IndexFromWire(w), nil
}

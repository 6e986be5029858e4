package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KnownPeer is a remembered libp2p peer, used to seed the peerstore and
// connection attempts across restarts (adapted from the teacher's
// peer-cache table; not part of the TrustChain wire protocol itself).
type KnownPeer struct {
	PeerID    string
	Addresses []string

	// PublicKey is the peer's marshaled TrustChain identity, read from
	// the libp2p peerstore when the peer connects — nil while no key is
	// known. The PROTECT scheduler needs this
	// alongside Addresses to address agent.Peer candidates (spec.md
	// §4.7); a libp2p peer_id alone only identifies a transport
	// endpoint, not a chain identity.
	PublicKey []byte

	FirstSeen       time.Time
	LastSeen        time.Time
	LastConnected   time.Time
	ConnectionCount int
	IsBootstrap     bool
}

// SaveKnownPeer upserts peer, incrementing its connection count on
// conflict. A nil PublicKey never overwrites a previously learned one.
func (s *Store) SaveKnownPeer(peer KnownPeer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	addresses := strings.Join(peer.Addresses, ",")

	_, err := s.db.Exec(
		`INSERT INTO known_peers (peer_id, addresses, public_key, first_seen, last_seen, last_connected, connection_count, is_bootstrap)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET
			addresses = excluded.addresses,
			public_key = COALESCE(excluded.public_key, known_peers.public_key),
			last_seen = excluded.last_seen,
			last_connected = excluded.last_connected,
			connection_count = known_peers.connection_count + 1`,
		peer.PeerID, addresses, nullableBytes(peer.PublicKey), now, now, now, boolToInt(peer.IsBootstrap),
	)
	if err != nil {
		return fmt.Errorf("save known peer: %w", err)
	}
	return nil
}

// UpdatePeerSeen bumps last_seen without counting a new connection.
func (s *Store) UpdatePeerSeen(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE known_peers SET last_seen = ? WHERE peer_id = ?`, time.Now().Unix(), peerID)
	if err != nil {
		return fmt.Errorf("update peer seen: %w", err)
	}
	return nil
}

// ListRecentPeers returns peers seen since `since`, most-connected first,
// capped at limit.
func (s *Store) ListRecentPeers(since time.Time, limit int) ([]KnownPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT peer_id, addresses, public_key, first_seen, last_seen, last_connected, connection_count, is_bootstrap
		 FROM known_peers WHERE last_seen >= ?
		 ORDER BY connection_count DESC, last_seen DESC LIMIT ?`,
		since.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent peers: %w", err)
	}
	defer rows.Close()

	var out []KnownPeer
	for rows.Next() {
		p, err := scanKnownPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PeerCount returns the number of known peers.
func (s *Store) PeerCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM known_peers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count known peers: %w", err)
	}
	return n, nil
}

type peerRowScanner interface {
	Scan(dest ...any) error
}

func scanKnownPeer(r peerRowScanner) (KnownPeer, error) {
	var (
		peerID, addresses                               string
		publicKey                                        []byte
		firstSeen, lastSeen, lastConnected, isBootstrap sql.NullInt64
		connCount                                        int
	)
	if err := r.Scan(&peerID, &addresses, &publicKey, &firstSeen, &lastSeen, &lastConnected, &connCount, &isBootstrap); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return KnownPeer{}, err
		}
		return KnownPeer{}, fmt.Errorf("scan known peer: %w", err)
	}
	p := KnownPeer{
		PeerID:          peerID,
		PublicKey:       publicKey,
		ConnectionCount: connCount,
		IsBootstrap:     isBootstrap.Int64 != 0,
	}
	if addresses != "" {
		p.Addresses = strings.Split(addresses, ",")
	}
	if firstSeen.Valid {
		p.FirstSeen = time.Unix(firstSeen.Int64, 0)
	}
	if lastSeen.Valid {
		p.LastSeen = time.Unix(lastSeen.Int64, 0)
	}
	if lastConnected.Valid {
		p.LastConnected = time.Unix(lastConnected.Int64, 0)
	}
	return p, nil
}

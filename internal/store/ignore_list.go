package store

import "fmt"

// IgnoreList permanently blocks a public key after it violates the
// PROTECT protocol (spec.md §3/§7 error category 1). There is no
// unignore operation in the core spec: once blocked, always blocked for
// the life of the process's store.

// Ignore adds pk to the ignore list, recording why.
func (s *Store) Ignore(pk []byte, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO ignore_list (public_key, reason, added_at)
		 VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(public_key) DO NOTHING`,
		pk, reason,
	)
	if err != nil {
		return fmt.Errorf("insert ignore list entry: %w", err)
	}
	return nil
}

// IsIgnored reports whether pk is on the ignore list.
func (s *Store) IsIgnored(pk []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM ignore_list WHERE public_key = ?`, pk).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ignore list: %w", err)
	}
	return n > 0, nil
}

// IgnoredKeys returns every public key currently ignored.
func (s *Store) IgnoredKeys() ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT public_key FROM ignore_list ORDER BY added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ignore list: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var pk []byte
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

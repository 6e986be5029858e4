// Package store provides SQLite-backed persistence for an agent's block
// chain, exchange index, ignore list, and known-peer cache.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistence handle an agent opens once at startup.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds store configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the SQLite database under
// cfg.DataDir and initializes its schema.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trustchain.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // sqlite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocks (
		public_key BLOB NOT NULL,
		sequence_number INTEGER NOT NULL,
		link_public_key BLOB,
		link_sequence_number INTEGER NOT NULL DEFAULT 0,
		previous_hash BLOB NOT NULL,
		signature BLOB NOT NULL,
		payload BLOB,
		hash BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (public_key, sequence_number)
	);

	CREATE INDEX IF NOT EXISTS idx_blocks_hash ON blocks(hash);

	CREATE TABLE IF NOT EXISTS exchange_storage (
		block_hash BLOB PRIMARY KEY,
		index_blob BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ignore_list (
		public_key BLOB PRIMARY KEY,
		reason TEXT,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS known_peers (
		peer_id TEXT PRIMARY KEY,
		addresses TEXT,
		public_key BLOB,
		first_seen INTEGER,
		last_seen INTEGER,
		last_connected INTEGER,
		connection_count INTEGER DEFAULT 0,
		is_bootstrap INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_known_peers_last_seen ON known_peers(last_seen);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

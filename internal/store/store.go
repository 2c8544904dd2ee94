package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Endpoints remembered longer than this are dropped; hardware that has been
// gone for a month is probably gone.
const staleAfter = 30 * 24 * time.Hour

// Store persists last-seen device addresses across restarts so discovery
// can probe them directly before the first SSDP response lands.
type Store struct {
	log *logrus.Entry
	db  *sql.DB

	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS known_endpoints (
	address    TEXT PRIMARY KEY,
	last_seen  INTEGER NOT NULL
);
`

// Open opens (creating if needed) the endpoint cache at path.
func Open(log *logrus.Entry, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}

	return &Store{log: log, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Endpoints returns remembered addresses, newest first, pruning stale rows
// on the way.
func (s *Store) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter).Unix()
	if _, err := s.db.Exec(`DELETE FROM known_endpoints WHERE last_seen < ?`, cutoff); err != nil {
		s.log.WithError(err).Warn("pruning stale endpoints")
	}

	rows, err := s.db.Query(`SELECT address FROM known_endpoints ORDER BY last_seen DESC`)
	if err != nil {
		s.log.WithError(err).Warn("loading known endpoints")
		return nil
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			continue
		}
		addresses = append(addresses, addr)
	}
	return addresses
}

// Touch records a sighting of an address.
func (s *Store) Touch(address string) {
	if address == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO known_endpoints (address, last_seen) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET last_seen = excluded.last_seen`,
		address, time.Now().Unix(),
	)
	if err != nil {
		s.log.WithError(err).WithField("address", address).Warn("recording endpoint")
	}
}

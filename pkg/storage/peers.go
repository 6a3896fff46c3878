// Package storage persists the identities of peers we have authenticated
// before, so a peer that suddenly presents a different signing key is
// caught (trust on first use).
package storage

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound = errors.New("peer not found")

	// A known peer presented a signing key that does not match the one
	// recorded on first contact.
	ErrKeyMismatch = errors.New("peer signing key changed since first contact")
)

// Peer is one remembered remote identity.
type Peer struct {
	Fingerprint string
	SigningKey  []byte
	IdentityKey []byte
	FirstSeen   time.Time
	LastSeen    time.Time
}

// PeerStore is a SQLite-backed trust store keyed by fingerprint.
type PeerStore struct {
	db  *sql.DB
	log zerolog.Logger
}

const peersSchema = `
CREATE TABLE IF NOT EXISTS peers (
	fingerprint  TEXT PRIMARY KEY,
	signing_key  BLOB NOT NULL,
	identity_key BLOB NOT NULL,
	first_seen   INTEGER NOT NULL,
	last_seen    INTEGER NOT NULL
);
`

// OpenPeerStore opens (creating if needed) the peer database at path.
func OpenPeerStore(path string, log zerolog.Logger) (*PeerStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open peer database: %w", err)
	}

	if _, err := db.Exec(peersSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create peers table: %w", err)
	}

	return &PeerStore{
		db:  db,
		log: log.With().Str("component", "peerstore").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *PeerStore) Close() error {
	return s.db.Close()
}

// Get returns the remembered peer for a fingerprint.
func (s *PeerStore) Get(fingerprint string) (*Peer, error) {
	row := s.db.QueryRow(`
		SELECT fingerprint, signing_key, identity_key, first_seen, last_seen
		FROM peers WHERE fingerprint = ?
	`, fingerprint)

	var p Peer
	var firstSeen, lastSeen int64

	err := row.Scan(&p.Fingerprint, &p.SigningKey, &p.IdentityKey, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.FirstSeen = time.Unix(firstSeen, 0)
	p.LastSeen = time.Unix(lastSeen, 0)
	return &p, nil
}

// Remember records a peer after a successful handshake. On first contact
// the keys are pinned; on later contacts the stored signing key must
// match or ErrKeyMismatch is returned and nothing is updated.
func (s *PeerStore) Remember(fingerprint string, signingKey, identityKey []byte, seen time.Time) error {
	existing, err := s.Get(fingerprint)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if existing != nil {
		if !bytes.Equal(existing.SigningKey, signingKey) {
			s.log.Warn().
				Str("fingerprint", fingerprint).
				Msg("signing key changed for known peer")
			return ErrKeyMismatch
		}
		_, err := s.db.Exec(`
			UPDATE peers SET identity_key = ?, last_seen = ? WHERE fingerprint = ?
		`, identityKey, seen.Unix(), fingerprint)
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO peers (fingerprint, signing_key, identity_key, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
	`, fingerprint, signingKey, identityKey, seen.Unix(), seen.Unix())
	if err != nil {
		return fmt.Errorf("insert peer: %w", err)
	}

	s.log.Info().Str("fingerprint", fingerprint).Msg("new peer pinned")
	return nil
}

// List returns all remembered peers, most recently seen first.
func (s *PeerStore) List() ([]*Peer, error) {
	rows, err := s.db.Query(`
		SELECT fingerprint, signing_key, identity_key, first_seen, last_seen
		FROM peers ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []*Peer
	for rows.Next() {
		var p Peer
		var firstSeen, lastSeen int64
		if err := rows.Scan(&p.Fingerprint, &p.SigningKey, &p.IdentityKey, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		p.FirstSeen = time.Unix(firstSeen, 0)
		p.LastSeen = time.Unix(lastSeen, 0)
		peers = append(peers, &p)
	}
	return peers, rows.Err()
}

// Forget removes a peer from the store.
func (s *PeerStore) Forget(fingerprint string) error {
	res, err := s.db.Exec(`DELETE FROM peers WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

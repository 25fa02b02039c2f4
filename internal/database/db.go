// Package database persists handshake outcomes so operators can audit which
// peers negotiated which protocol versions.
package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// New opens (and creates if needed) the audit database at path.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS handshakes (
			id TEXT PRIMARY KEY,
			handshake_id TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			transport TEXT NOT NULL,
			remote_protocol INTEGER NOT NULL,
			negotiated INTEGER NOT NULL,
			checksum_seed INTEGER NOT NULL,
			inc_recurse BOOLEAN NOT NULL DEFAULT FALSE,
			error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_handshakes_remote_addr ON handshakes(remote_addr);`,
		`CREATE INDEX IF NOT EXISTS idx_handshakes_created_at ON handshakes(created_at);`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// HandshakeRecord is one negotiation outcome, successful or not. For
// failures, Error names the kind and the version fields hold whatever was
// learned before the failure.
type HandshakeRecord struct {
	ID             string    `json:"id"`
	HandshakeID    string    `json:"handshake_id"`
	RemoteAddr     string    `json:"remote_addr"`
	Transport      string    `json:"transport"`
	RemoteProtocol int       `json:"remote_protocol"`
	Negotiated     int       `json:"negotiated"`
	ChecksumSeed   int32     `json:"checksum_seed"`
	IncRecurse     bool      `json:"inc_recurse"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordHandshake inserts one negotiation outcome.
func (db *DB) RecordHandshake(rec HandshakeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := db.Exec(
		`INSERT INTO handshakes
			(id, handshake_id, remote_addr, transport, remote_protocol, negotiated, checksum_seed, inc_recurse, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.HandshakeID, rec.RemoteAddr, rec.Transport,
		rec.RemoteProtocol, rec.Negotiated, rec.ChecksumSeed, rec.IncRecurse,
		sql.NullString{String: rec.Error, Valid: rec.Error != ""},
	)
	if err != nil {
		return fmt.Errorf("record handshake: %w", err)
	}
	return nil
}

// RecentHandshakes returns up to limit records, newest first.
func (db *DB) RecentHandshakes(limit int) ([]HandshakeRecord, error) {
	rows, err := db.Query(
		`SELECT id, handshake_id, remote_addr, transport, remote_protocol, negotiated, checksum_seed, inc_recurse, COALESCE(error, ''), created_at
		 FROM handshakes ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query handshakes: %w", err)
	}
	defer rows.Close()

	var out []HandshakeRecord
	for rows.Next() {
		var rec HandshakeRecord
		if err := rows.Scan(&rec.ID, &rec.HandshakeID, &rec.RemoteAddr, &rec.Transport,
			&rec.RemoteProtocol, &rec.Negotiated, &rec.ChecksumSeed, &rec.IncRecurse,
			&rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan handshake: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

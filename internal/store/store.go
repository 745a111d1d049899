// Package store persists resume positions per media reference, so the
// authority can seed playback from where a previous session left off.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed resume-position table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS resume_positions (
			media_ref TEXT PRIMARY KEY,
			position  REAL NOT NULL,
			updated   INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SavePosition upserts the resume position for a media reference.
func (s *Store) SavePosition(mediaRef string, position float64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: missing database connection")
	}
	if mediaRef == "" {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO resume_positions (media_ref, position, updated)
		VALUES (?, ?, ?)
		ON CONFLICT(media_ref) DO UPDATE SET
			position=excluded.position,
			updated=excluded.updated
	`, mediaRef, position, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadPosition returns the stored position for a media reference, and
// whether one exists.
func (s *Store) LoadPosition(mediaRef string) (float64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("store: missing database connection")
	}
	var position float64
	err := s.db.QueryRow(
		`SELECT position FROM resume_positions WHERE media_ref = ?`, mediaRef,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load position: %w", err)
	}
	return position, true, nil
}

// Forget removes the stored position for a media reference.
func (s *Store) Forget(mediaRef string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: missing database connection")
	}
	_, err := s.db.Exec(`DELETE FROM resume_positions WHERE media_ref = ?`, mediaRef)
	if err != nil {
		return fmt.Errorf("forget position: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

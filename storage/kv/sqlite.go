// Package kv provides a durable key-value store backed by an embedded
// sqlite database. It survives process restarts, which makes it a fit
// for the persisted role fallback.
package kv

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/iteamsociety/iteam/core"
)

type sqliteStore struct {
	db *sql.DB
}

var _ core.KVStore = (*sqliteStore)(nil)

// Open opens (and creates, if needed) a sqlite-backed store at path.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening kv store")
	}
	// a single writer avoids SQLITE_BUSY under concurrent access
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initializing kv store")
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", core.ErrKeyNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "reading key")
	}
	return value, nil
}

func (s *sqliteStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return errors.Wrap(err, "writing key")
}

func (s *sqliteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return errors.Wrap(err, "deleting key")
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

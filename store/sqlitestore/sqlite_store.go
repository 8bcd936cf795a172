// Package sqlitestore backs a credential store with SQLite, for clients
// that already carry a local database. Uses the pure-Go modernc driver,
// so no cgo is needed.
package sqlitestore

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"authkit/store"
)

var _ store.Repo = (*Store)(nil)

// Store keeps the credential triple in a single-row table. All writes run
// in a transaction so the three fields change together.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("[sqlitestore.New] path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.New] open")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at    INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[sqlitestore.New] create table")
	}
	return &Store{db: db}, nil
}

func (s *Store) Write(creds store.Credentials) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "[sqlitestore.Write] begin")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO credentials (id, access_token, refresh_token, expires_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at`,
		creds.AccessToken, creds.RefreshToken, creds.ExpiresAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "[sqlitestore.Write] upsert")
	}
	return errors.Wrap(tx.Commit(), "[sqlitestore.Write] commit")
}

func (s *Store) Read() (store.Credentials, error) {
	var creds store.Credentials
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT access_token, refresh_token, expires_at FROM credentials WHERE id = 1`,
	).Scan(&creds.AccessToken, &creds.RefreshToken, &expiresAt)
	if err == sql.ErrNoRows {
		return store.Credentials{}, nil
	}
	if err != nil {
		return store.Credentials{}, errors.Wrap(err, "[sqlitestore.Read] query")
	}
	if expiresAt != 0 {
		creds.ExpiresAt = time.UnixMilli(expiresAt)
	}
	return creds, nil
}

func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE id = 1`)
	return errors.Wrap(err, "[sqlitestore.Clear] delete")
}

func (s *Store) Close() error {
	return s.db.Close()
}

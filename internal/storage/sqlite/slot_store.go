// Package sqlite stores session slots in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/migrate"
	"github.com/and161185/pharm-admin/internal/storage"

	_ "modernc.org/sqlite"
)

// Store implements storage.Storage on the session_slots table.
type Store struct {
	db *sql.DB
	ns string
}

var _ storage.Storage = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path, namespace string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY under concurrent Set calls
	db.SetMaxOpenConns(1)

	if err := migrate.UpSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db, ns: namespace}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM session_slots WHERE namespace = ? AND slot = ?`
	var v string
	if err := s.db.QueryRowContext(ctx, q, s.ns, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", fmt.Errorf("%w: select slot: %v", errs.ErrStorage, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO session_slots (namespace, slot, value, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (namespace, slot)
DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, q, s.ns, key, value); err != nil {
		return fmt.Errorf("%w: upsert slot: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM session_slots WHERE namespace = ? AND slot = ?`
	if _, err := s.db.ExecContext(ctx, q, s.ns, key); err != nil {
		return fmt.Errorf("%w: delete slot: %v", errs.ErrStorage, err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/storage"
	"github.com/jackc/pgx/v5"
)

// Store implements storage.Storage on the session_slots table.
type Store struct {
	db *DB
	ns string
}

var _ storage.Storage = (*Store)(nil)

// NewStore constructs a slot store scoped to namespace (one per profile).
func NewStore(db *DB, namespace string) *Store { return &Store{db: db, ns: namespace} }

// Get selects a slot value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	const q = `
SELECT value FROM session_slots
WHERE namespace=$1 AND slot=$2`
	var v string
	if err := s.db.Pool.QueryRow(ctx, q, s.ns, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: select slot: %v", errs.ErrStorage, err)
	}
	return v, nil
}

// Set upserts a slot value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO session_slots (namespace, slot, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, slot)
DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
	if _, err := s.db.Pool.Exec(ctx, q, s.ns, key, value); err != nil {
		return fmt.Errorf("%w: upsert slot: %v", errs.ErrStorage, err)
	}
	return nil
}

// Delete removes a slot; a missing row is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM session_slots WHERE namespace=$1 AND slot=$2`
	if _, err := s.db.Pool.Exec(ctx, q, s.ns, key); err != nil {
		return fmt.Errorf("%w: delete slot: %v", errs.ErrStorage, err)
	}
	return nil
}

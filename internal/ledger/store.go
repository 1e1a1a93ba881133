// Package ledger provides Postgres-backed persistence of completed transfers.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/ridesync/internal/domain"
)

const uniqueViolation = "23505"

const schema = `CREATE TABLE IF NOT EXISTS transfers (
    activity_id TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    filename    TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Store is the append-only transfer ledger. An entry for an activity exists
// iff its file was generated and successfully handed to the destination.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the backing table when absent. Safe to call on every startup.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: init schema: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// HasTransferred reports whether a ledger entry exists for the activity.
func (s *Store) HasTransferred(ctx context.Context, activityID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM transfers WHERE activity_id=$1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, activityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: query transfers: %v", domain.ErrStoreUnavailable, err)
	}
	return exists, nil
}

// RecordTransfer inserts a new ledger entry. Inserting an activity that is
// already recorded fails with ErrDuplicateEntry so concurrent runs can treat
// the transfer as done by someone else.
func (s *Store) RecordTransfer(ctx context.Context, activityID, title, filename string) error {
	const stmt = `INSERT INTO transfers (activity_id, title, filename) VALUES ($1,$2,$3)`

	if _, err := s.pool.Exec(ctx, stmt, activityID, title, filename); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateEntry
		}
		return fmt.Errorf("%w: insert transfer: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Entry retrieves the ledger entry for an activity, or nil when absent.
func (s *Store) Entry(ctx context.Context, activityID string) (*domain.LedgerEntry, error) {
	const query = `SELECT activity_id, title, filename, recorded_at FROM transfers WHERE activity_id=$1`

	row := s.pool.QueryRow(ctx, query, activityID)
	var entry domain.LedgerEntry
	if err := row.Scan(&entry.ActivityID, &entry.Title, &entry.Filename, &entry.RecordedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query transfer: %v", domain.ErrStoreUnavailable, err)
	}
	return &entry, nil
}

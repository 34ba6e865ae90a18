package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"wagate/internal/store"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	DB DB
}

func New(db DB) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

// WithinAckTx runs fn in a transaction holding the advisory lock for transportID, so
// concurrent writers of the same id (other processes included) queue behind each other.
func (s *Store) WithinAckTx(ctx context.Context, transportID string, fn func(tx store.AckTx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockTransportID(ctx, tx, transportID); err != nil {
		return err
	}
	if err := fn(&ackTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const lockTransportIDSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

func lockTransportID(ctx context.Context, q querier, transportID string) error {
	_, err := q.Exec(ctx, lockTransportIDSQL, transportID)
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Package postgres implements ledger.Store on Postgres.
//
// Uniqueness comes from primary keys and ON CONFLICT DO NOTHING; the follow-up
// read takes the row with FOR UPDATE, so the row lock serializes callers on the
// same key until their transaction ends.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"seatcheck/internal/ledger"
)

// maxAttempts bounds the insert-or-lock loop when a row disappears between
// the conflicting insert and the locking read.
const maxAttempts = 3

// ErrContended is returned when maxAttempts was not enough to settle a key.
var ErrContended = errors.New("postgres: key contended, retry")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a ledger.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// New wraps pool. The schema from internal/store must already be applied.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn in one READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(t pgx.Tx) error {
		return fn(txLedgers{q: t})
	})
}

// Seats runs each seat operation in its own transaction.
func (s *Store) Seats() ledger.Seats { return autoSeats{s} }

// Attendance runs each attendance operation in its own transaction.
func (s *Store) Attendance() ledger.Attendance { return autoAttendance{s} }

// Waiting runs each waiting-room operation in its own transaction.
func (s *Store) Waiting() ledger.Waiting { return autoWaiting{s} }

type txLedgers struct{ q querier }

func (t txLedgers) Seats() ledger.Seats           { return seats{t.q} }
func (t txLedgers) Attendance() ledger.Attendance { return attendance{t.q} }
func (t txLedgers) Waiting() ledger.Waiting       { return waiting{t.q} }

// inTx runs fn against a fresh transaction.
func inTx[T any](ctx context.Context, s *Store, fn func(tx ledger.Tx) (T, error)) (T, error) {
	var out T
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// wrap adds op to err. Deadlocks and serialization failures also match ErrContended.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001") {
		return fmt.Errorf("postgres: %s: %w: %w", op, ErrContended, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors shared by all repositories.
var (
	ErrNotFound          = errors.New("record not found")
	ErrAttemptInProgress = errors.New("an attempt is already in progress for this exam")
	ErrQuotaExhausted    = errors.New("attempt quota exhausted")
	ErrAttemptNotStarted = errors.New("attempt is no longer in progress")
)

// Unique constraints that arbitrate racing attempt starts.
const (
	constraintOneStarted  = "attempts_one_started_idx"
	constraintAttemptNo   = "attempts_tuple_attempt_no_key"
	pgUniqueViolationCode = "23505"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// TxRunner runs a function inside one PostgreSQL transaction. Repositories called with the
// context handed to fn join that transaction.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner creates a new TxRunner.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise. Nested calls reuse the outer transaction.
func (t *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction bound to ctx, or the pool.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// notFound maps pgx.ErrNoRows to ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// uniqueViolation reports the violated constraint name when err is a unique violation.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
		return pgErr.ConstraintName, true
	}
	return "", false
}

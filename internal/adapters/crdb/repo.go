package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	defaultTxAttempts = 3
)

type Repository struct {
	pool       *pgxpool.Pool
	txAttempts int
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, txAttempts: defaultTxAttempts}
}

type txKey struct{}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn in a SERIALIZABLE transaction carried by the context it
// receives. Repository calls made with that context join the transaction.
// Serialization failures are retried a few times before surfacing as
// domain.ErrSerializationFailure. Nested calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= r.txAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return errors.Wrapf(domain.ErrSerializationFailure, "gave up after %d attempts: %v", r.txAttempts, err)
}

func (r *Repository) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// Ping is used by readiness checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != UniqueViolationCode {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(domain.ErrNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

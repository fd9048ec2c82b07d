package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// querier is the part of pgx.Tx the writers use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepo is the PostgreSQL Repo. Concurrency across units of work is bounded
// by the pool size.
type PgRepo struct {
	pool    *pgxpool.Pool
	metrics *Metrics
}

// NewPgRepo connects to connStr. maxConns <= 0 keeps the pgxpool default.
func NewPgRepo(ctx context.Context, connStr string, maxConns int32, metrics *Metrics) (*PgRepo, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PgRepo{pool: pool, metrics: metrics}, nil
}

// EnsureSchema creates any missing tables.
func (r *PgRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *PgRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PgRepo) Close() {
	r.pool.Close()
}

// Transaction acquires a connection, which may wait while the pool is
// exhausted, and runs fn inside one read-committed transaction.
func (r *PgRepo) Transaction(ctx context.Context, fn func(ctx context.Context, ops Operations) error) (err error) {
	start := time.Now()
	defer func() { r.metrics.observeUnitOfWork(err, time.Since(start)) }()

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
	}()

	if err := fn(ctx, &pgOperations{db: tx, metrics: r.metrics}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// pgOperations implements Operations on one open transaction.
type pgOperations struct {
	db      querier
	metrics *Metrics
}

var _ Operations = (*pgOperations)(nil)

// wrap describes a failed logical write. Constraint violations carry the
// constraint and the offending key.
func wrap(err error, format string, args ...any) error {
	op := fmt.Sprintf(format, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		return fmt.Errorf("cannot %s: constraint %s violated (%s): %w", op, pgErr.ConstraintName, pgErr.Detail, err)
	}
	return fmt.Errorf("cannot %s: %w", op, err)
}

// Package store provides the data access layer. All queries go through a
// single *pgxpool.Pool; the job queue operations in jobs.go rely on
// rows-affected conditional updates for multi-worker safety, so no in-process
// locking exists anywhere in this package.
package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// isNoRows reports whether err is the pgx no-rows sentinel.
func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// psql is the squirrel statement builder configured for Postgres placeholders.
// Used for dynamic filter queries; static queries are plain SQL strings.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is the central data access object.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need raw access
// (healthz ping, test assertions).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// withTx runs fn inside a pgx transaction. The transaction is committed if fn
// returns nil, rolled back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on panic or fn error
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Package libdbexec wraps database/sql behind a small executor interface so
// stores can run the same statements against Postgres or SQLite, inside or
// outside a transaction, and see driver errors as package sentinels.
package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("libdb: not found")
	ErrUniqueViolation       = errors.New("libdb: unique constraint violation")
	ErrForeignKeyViolation   = errors.New("libdb: foreign key violation")
	ErrNotNullViolation      = errors.New("libdb: not null violation")
	ErrCheckViolation        = errors.New("libdb: check constraint violation")
	ErrConstraintViolation   = errors.New("libdb: constraint violation")
	ErrDeadlockDetected      = errors.New("libdb: deadlock detected")
	ErrSerializationFailure  = errors.New("libdb: serialization failure")
	ErrLockNotAvailable      = errors.New("libdb: lock not available")
	ErrQueryCanceled         = errors.New("libdb: query canceled")
	ErrDataTruncation        = errors.New("libdb: data truncation")
	ErrNumericOutOfRange     = errors.New("libdb: numeric value out of range")
	ErrInvalidInputSyntax    = errors.New("libdb: invalid input syntax")
	ErrUndefinedColumn       = errors.New("libdb: undefined column")
	ErrUndefinedTable        = errors.New("libdb: undefined table")
	ErrTxFailed              = errors.New("libdb: transaction failed")
	ErrMaxRowsReached        = errors.New("libdb: max rows reached")
	errUninitializedExecutor = errors.New("libdb: executor has neither db nor tx")
)

// Exec is the subset of *sql.DB / *sql.Tx the stores depend on.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// QueryRower is returned by QueryRowContext; Scan errors are already translated.
type QueryRower interface {
	Scan(dest ...any) error
}

// CommitTx commits the transaction it was returned with.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back unless the transaction was committed. Safe to defer.
type ReleaseTx func() error

// DBManager hands out executors bound to a connection pool or a transaction.
type DBManager interface {
	WithoutTransaction() Exec
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

// txAwareDB runs statements on either a pool or a transaction and feeds every
// error through the driver's translator.
type txAwareDB struct {
	db        *sql.DB
	tx        *sql.Tx
	translate func(error) error
}

func (s *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	switch {
	case s.tx != nil:
		res, err := s.tx.ExecContext(ctx, query, args...)
		return res, s.translate(err)
	case s.db != nil:
		res, err := s.db.ExecContext(ctx, query, args...)
		return res, s.translate(err)
	}
	return nil, errUninitializedExecutor
}

func (s *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case s.tx != nil:
		rows, err = s.tx.QueryContext(ctx, query, args...)
	case s.db != nil:
		rows, err = s.db.QueryContext(ctx, query, args...)
	default:
		return nil, errUninitializedExecutor
	}
	if err != nil {
		return nil, s.translate(err)
	}
	return rows, nil
}

func (s *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	switch {
	case s.tx != nil:
		return &row{inner: s.tx.QueryRowContext(ctx, query, args...), translate: s.translate}
	case s.db != nil:
		return &row{inner: s.db.QueryRowContext(ctx, query, args...), translate: s.translate}
	}
	return &row{err: errUninitializedExecutor}
}

type row struct {
	inner     *sql.Row
	err       error
	translate func(error) error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.translate(r.inner.Scan(dest...))
}

// beginTx is shared by both managers; only the translator differs.
func beginTx(ctx context.Context, db *sql.DB, translate func(error) error, onRollback []func()) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, func() error { return nil }, wrapTx("begin transaction failed", translate(err))
	}
	committed := false

	commit := func(commitCtx context.Context) error {
		if ctxErr := commitCtx.Err(); ctxErr != nil {
			return wrapTx("context error before commit", ctxErr)
		}
		if err := tx.Commit(); err != nil {
			return wrapTx("commit failed", translate(err))
		}
		committed = true
		return nil
	}

	release := func() error {
		err := tx.Rollback()
		if !committed {
			for _, f := range onRollback {
				if f != nil {
					f()
				}
			}
		}
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			return wrapTx("rollback failed", translate(err))
		}
		return nil
	}

	return &txAwareDB{tx: tx, translate: translate}, commit, release, nil
}

func wrapTx(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTxFailed, msg, err)
}

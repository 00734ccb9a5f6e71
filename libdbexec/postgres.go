package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

type postgresDBManager struct {
	db *sql.DB
}

// NewPostgresDBManager opens a pool for dsn, pings it and applies schema when
// it is non-empty. Schema statements must be idempotent.
func NewPostgresDBManager(ctx context.Context, dsn string, schema string) (DBManager, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", translatePostgresError(err))
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database connection failed: %w", translatePostgresError(err))
	}
	if schema != "" {
		if _, err = db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", translatePostgresError(err))
		}
	}
	return &postgresDBManager{db: db}, nil
}

func (m *postgresDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: m.db, translate: translatePostgresError}
}

func (m *postgresDBManager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	return beginTx(ctx, m.db, translatePostgresError, onRollback)
}

func (m *postgresDBManager) Close() error {
	if m.db == nil {
		return nil
	}
	slog.Debug("closing postgres pool")
	return m.db.Close()
}

// translatePostgresError maps SQLSTATE codes reported by lib/pq onto the
// package sentinels. Unknown errors are wrapped, never swallowed.
func translatePostgresError(err error) error {
	if err == nil {
		return nil
	}
	if translated, ok := translateCommon(err); ok {
		return translated
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("libdb: unexpected database error: %w", err)
	}
	switch pqErr.Code {
	case "23505":
		return ErrUniqueViolation
	case "23503":
		return ErrForeignKeyViolation
	case "23502":
		return ErrNotNullViolation
	case "23514":
		return ErrCheckViolation
	case "40P01":
		return ErrDeadlockDetected
	case "40001":
		return ErrSerializationFailure
	case "55P03":
		return ErrLockNotAvailable
	case "57014":
		return fmt.Errorf("%w: %s", ErrQueryCanceled, pqErr.Message)
	case "22001":
		return ErrDataTruncation
	case "22003":
		return ErrNumericOutOfRange
	case "22P02":
		return fmt.Errorf("%w: %s", ErrInvalidInputSyntax, pqErr.Message)
	case "42703":
		return ErrUndefinedColumn
	case "42P01":
		return ErrUndefinedTable
	}
	if pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
	}
	return fmt.Errorf("libdb: postgres error: code=%s detail=%q message=%q: %w",
		pqErr.Code, pqErr.Detail, pqErr.Message, err)
}

// translateCommon handles the driver independent cases.
func translateCommon(err error) (error, bool) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", ErrNotFound, err), true
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrQueryCanceled, context.Canceled), true
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrQueryCanceled, context.DeadlineExceeded), true
	}
	return nil, false
}

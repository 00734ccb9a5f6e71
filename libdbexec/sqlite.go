package libdbexec

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteDBManager backs the single-process mode and the fast unit tests.
type sqliteDBManager struct {
	db *sql.DB
}

// NewSQLiteDBManager opens (and creates) the database file at path, turns on
// foreign key enforcement and applies schema when it is non-empty.
func NewSQLiteDBManager(ctx context.Context, path string, schema string) (DBManager, error) {
	if err := ensureSQLiteParentDir(path); err != nil {
		return nil, fmt.Errorf("sqlite parent dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", translateSQLiteError(err))
	}
	// A single writer avoids SQLITE_BUSY under concurrent upserts; the pragma
	// below is per connection, so pinning one connection also keeps it applied.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", schema} {
		if stmt == "" {
			continue
		}
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init failed: %w", translateSQLiteError(err))
		}
	}
	return &sqliteDBManager{db: db}, nil
}

func (m *sqliteDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: m.db, translate: translateSQLiteError}
}

func (m *sqliteDBManager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	return beginTx(ctx, m.db, translateSQLiteError, onRollback)
}

func (m *sqliteDBManager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// translateSQLiteError matches on the driver's message text; modernc does not
// export typed constraint errors.
func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if translated, ok := translateCommon(err); ok {
		return translated
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return ErrUniqueViolation
	case strings.Contains(msg, "FOREIGN KEY constraint"):
		return ErrForeignKeyViolation
	case strings.Contains(msg, "NOT NULL constraint"):
		return ErrNotNullViolation
	case strings.Contains(msg, "CHECK constraint"):
		return ErrCheckViolation
	case strings.Contains(msg, "no such table"):
		return ErrUndefinedTable
	case strings.Contains(msg, "no such column"):
		return ErrUndefinedColumn
	}
	return fmt.Errorf("libdb: sqlite error: %w", err)
}

func ensureSQLiteParentDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory") {
		return nil
	}
	fsPath := strings.TrimPrefix(path, "file:")
	if before, _, ok := strings.Cut(fsPath, "?"); ok {
		fsPath = before
	}
	dir := filepath.Dir(fsPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

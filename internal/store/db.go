// Package store implements the run-history persistence layer (spec.md's
// ambient stack: a record of every pricing call, for audit and for
// internal/schedule's periodic re-pricing to diff against). It is built
// on modernc.org/sqlite, the teacher's own pure-Go driver choice
// (internal/database/db.go), trimmed to the one table this service needs
// instead of the teacher's multi-database, multi-profile setup.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection with the WAL/synchronous pragmas the
// teacher applies to its "standard" profile (internal/database/db.go's
// buildConnectionString): durable enough to survive a crash, fast enough
// for one row per pricing call.
type DB struct {
	conn *sql.DB
}

// Open creates (if necessary) the data directory and the sqlite file at
// path, applies the schema, and returns a ready DB.
func Open(path string) (*DB, error) {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("store: resolving db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("store: creating data dir: %w", err)
		}
		path = absPath
	}

	connStr := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY storms

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS run_history (
	id           TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	request_hash TEXT NOT NULL,
	price_var    TEXT,
	price        REAL,
	response     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_history_request_hash ON run_history(request_hash);
CREATE INDEX IF NOT EXISTS idx_run_history_created_at ON run_history(created_at);
`

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

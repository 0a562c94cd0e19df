// Package sqlitestore opens the pure-Go SQLite database backing the
// dispatch core's durable state and the replicated command log the
// coordinator commits against.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/dispatchd/internal/fscheck"
)

// Open opens (creating if needed) the SQLite database at path, applies the
// pragmas the coordinator's retry logic assumes are set (WAL mode plus a
// busy timeout, so transient lock contention surfaces as a retryable error
// rather than blocking indefinitely), and ensures the schema exists.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := fscheck.ValidateSQLitePath(path); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA foreign_keys = ON;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates the tables the reference handlers and the coordinator
// need if they don't already exist.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commands_applied (
  id            TEXT PRIMARY KEY,
  method_line   TEXT NOT NULL,
  user_id       TEXT,
  status        INTEGER NOT NULL,
  reason        TEXT,
  applied_at    TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS counters (
  name  TEXT PRIMARY KEY,
  value INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS node_role (
  node_id    TEXT PRIMARY KEY,
  role       TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

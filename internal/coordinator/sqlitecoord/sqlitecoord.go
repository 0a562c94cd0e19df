// Package sqlitecoord is the reference Coordinator, backed by a single
// modernc.org/sqlite database shared by every command processed on this
// node. A real multi-node deployment would replace this with a Coordinator
// that drives an actual distributed commit; this one simulates the leader
// role with a caller-supplied predicate and treats ordinary SQLite
// contention as the "conflict" case a worker should retry.
package sqlitecoord

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mattjoyce/dispatchd/internal/coordinator"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// Coordinator implements coordinator.Coordinator against a *sql.DB. It
// carries no per-transaction state of its own: every Begin opens an
// independent *sql.Tx against the pooled *sql.DB, so N workers calling
// Begin concurrently get N independent transactions rather than colliding
// on a single shared slot.
type Coordinator struct {
	db       *sql.DB
	isLeader func() bool
}

// New returns a Coordinator. isLeader is consulted on every IsLeader call
// rather than cached, so a role change takes effect for the very next
// command a worker dequeues.
func New(db *sql.DB, isLeader func() bool) *Coordinator {
	return &Coordinator{db: db, isLeader: isLeader}
}

// Begin implements coordinator.Coordinator.
func (c *Coordinator) Begin(ctx context.Context) (*store.Store, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return store.New(tx), nil
}

// Commit implements coordinator.Coordinator.
func (c *Coordinator) Commit(ctx context.Context, s *store.Store) (coordinator.CommitStatus, error) {
	if err := s.Commit(); err != nil {
		if isTransientSQLiteErr(err) {
			return coordinator.CommitConflict, err
		}
		return coordinator.CommitFatal, err
	}
	return coordinator.CommitOK, nil
}

// Rollback implements coordinator.Coordinator. Safe to call on a
// transaction Commit already closed.
func (c *Coordinator) Rollback(ctx context.Context, s *store.Store) error {
	if s == nil {
		return nil
	}
	return s.Rollback()
}

// IsLeader implements coordinator.Coordinator.
func (c *Coordinator) IsLeader() bool {
	return c.isLeader()
}

// isTransientSQLiteErr reports whether err is the kind of lock contention
// that can be resolved by retrying from a fresh transaction, rather than a
// permanent failure.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

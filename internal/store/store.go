// Package store defines the opaque handle handlers use to read and write
// durable state inside an already-open transaction. Store never exposes the
// underlying *sql.Tx or *sql.DB: a handler that could reach the connection
// directly could commit, roll back, or open a nested transaction, all of
// which would break the single-transaction-per-command contract the
// coordinator relies on.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Store wraps one open transaction for the duration of a single command's
// Process call. It is created by a Coordinator at Begin and is invalid
// after the coordinator commits or rolls back — using it afterward is a
// programmer error, not a condition Store tries to detect.
type Store struct {
	tx *sql.Tx
}

// New wraps tx. Only coordinator implementations should call this; handlers
// receive a *Store, never construct one.
func New(tx *sql.Tx) *Store {
	return &Store{tx: tx}
}

// Exec runs a write statement against the open transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

// QueryRow runs a single-row read against the open transaction.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}

// Query runs a multi-row read against the open transaction.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

// Commit commits the wrapped transaction. Only a Coordinator implementation
// should call this — it exists so a Coordinator can close the transaction it
// handed out without this package exposing the raw *sql.Tx to handlers.
func (s *Store) Commit() error {
	return s.tx.Commit()
}

// Rollback discards the wrapped transaction. Only a Coordinator
// implementation should call this. Safe to call on an already-committed or
// already-rolled-back transaction; sql.Tx reports that as ErrTxDone.
func (s *Store) Rollback() error {
	return s.tx.Rollback()
}

// ErrNoRows mirrors sql.ErrNoRows so handler packages don't need to import
// database/sql just to compare against it.
var ErrNoRows = sql.ErrNoRows

// WrapError annotates err with op if non-nil, otherwise returns nil. A small
// convenience so handlers can write `return store.WrapError("load widget", err)`
// without repeating the %w plumbing.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

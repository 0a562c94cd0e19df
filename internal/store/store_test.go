package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestExecAndQueryRow(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, "CREATE TABLE widgets (name TEXT, count INTEGER)")
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	s := New(tx)

	_, err = s.Exec(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", "gear", 3)
	require.NoError(t, err)

	var count int
	require.NoError(t, s.QueryRow(ctx, "SELECT count FROM widgets WHERE name = ?", "gear").Scan(&count))
	require.Equal(t, 3, count)

	require.NoError(t, tx.Commit())
}

func TestCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, "CREATE TABLE widgets (name TEXT, count INTEGER)")
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	s := New(tx)
	_, err = s.Exec(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", "rolled-back", 1)
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	var count int
	err = db.QueryRowContext(ctx, "SELECT count FROM widgets WHERE name = ?", "rolled-back").Scan(&count)
	require.ErrorIs(t, err, sql.ErrNoRows)

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	s2 := New(tx2)
	_, err = s2.Exec(ctx, "INSERT INTO widgets (name, count) VALUES (?, ?)", "committed", 2)
	require.NoError(t, err)
	require.NoError(t, s2.Commit())

	require.NoError(t, db.QueryRowContext(ctx, "SELECT count FROM widgets WHERE name = ?", "committed").Scan(&count))
	require.Equal(t, 2, count)
}

func TestWrapError(t *testing.T) {
	require.NoError(t, WrapError("load widget", nil))
	err := WrapError("load widget", sql.ErrNoRows)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.Contains(t, err.Error(), "load widget")
}

// Package refhandler provides the small set of built-in handlers every
// dispatchd node registers: a status query, an echo for wiring checks, and
// a ping that exercises the full peek-then-process path against durable
// state.
package refhandler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/handler"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// StatusFunc produces the JSON payload for the well-known Status command.
// dispatch.Core supplies the closure that knows the node's role and queue
// state; this handler just calls it and wraps the result as a response.
type StatusFunc func() (json.RawMessage, error)

// Status implements the well-known "Status" methodLine (spec.md §6): it
// reports node role and queue contents and never touches durable state, so
// it is safe to answer from Peek alone.
type Status struct {
	Fn StatusFunc
}

func (s *Status) Peek(ctx context.Context, cmd *command.Command) error {
	payload, err := s.Fn()
	if err != nil {
		return err
	}
	cmd.Finalize(command.StatusOK, "", payload)
	return nil
}

func (s *Status) Process(ctx context.Context, cmd *command.Command, st *store.Store) (handler.Outcome, error) {
	return handler.NoChange, nil
}

func (s *Status) UpgradeDatabase(ctx context.Context, st *store.Store) error { return nil }

// Echo returns the request payload it was given, unchanged. Useful for
// confirming ingress, the queue, and a worker are all wired correctly
// without touching the store.
type Echo struct{}

func (Echo) Peek(ctx context.Context, cmd *command.Command) error {
	cmd.Finalize(command.StatusOK, "", cmd.Request.Payload)
	return nil
}

func (Echo) Process(ctx context.Context, cmd *command.Command, st *store.Store) (handler.Outcome, error) {
	return handler.NoChange, nil
}

func (Echo) UpgradeDatabase(ctx context.Context, st *store.Store) error { return nil }

// Ping demonstrates the peek-then-process path against durable state: Peek
// is a read-only, idempotent lookup of whether this command id was already
// applied (so a resubmitted or retried Ping completes without touching the
// coordinator again); otherwise it escalates, and Process records the
// application and bumps a counter inside the coordinator's transaction,
// committing on success.
//
// Peek reads against DB directly rather than through a Store, because Peek
// runs outside any coordinator transaction — it may be called on any node,
// any number of times, per the Handler contract.
type Ping struct {
	DB *sql.DB
}

func (p Ping) Peek(ctx context.Context, cmd *command.Command) error {
	if p.DB == nil {
		return nil // no durable store wired: always escalate
	}
	var status int
	var reason string
	err := p.DB.QueryRowContext(ctx,
		`SELECT status, reason FROM commands_applied WHERE id = ?`, cmd.ID,
	).Scan(&status, &reason)
	switch {
	case err == nil:
		cmd.Finalize(status, reason, nil)
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return nil // not yet applied: escalate to Process
	default:
		return err
	}
}

func (p Ping) Process(ctx context.Context, cmd *command.Command, st *store.Store) (handler.Outcome, error) {
	methodLine, userID := cmd.Request.MethodLine(), cmd.Request.UserID()
	_, err := st.Exec(ctx,
		`INSERT INTO commands_applied (id, method_line, user_id, status, reason, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cmd.ID, methodLine, userID, command.StatusOK, "", time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return handler.NoChange, store.WrapError("record ping application", err)
	}
	_, err = st.Exec(ctx,
		`INSERT INTO counters (name, value) VALUES ('ping', 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1`,
	)
	if err != nil {
		return handler.NoChange, store.WrapError("increment ping counter", err)
	}
	cmd.Finalize(command.StatusOK, "", nil)
	return handler.Committed, nil
}

func (p Ping) UpgradeDatabase(ctx context.Context, st *store.Store) error { return nil }

// RegisterAll registers Echo and Ping on reg, backing Ping's idempotent
// Peek with db. Status is registered separately by the caller, since it
// needs a StatusFunc closure over the running Core.
func RegisterAll(reg *handler.Registry, db *sql.DB) error {
	if err := reg.Register("Echo", Echo{}); err != nil {
		return err
	}
	if err := reg.Register("Ping", Ping{DB: db}); err != nil {
		return err
	}
	return nil
}

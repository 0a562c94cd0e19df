// Package testhandler provides fault-injecting handlers used by the core's
// own test suite to exercise quarantine behavior (spec.md scenarios
// S1-S3). They are not registered on a production node.
package testhandler

import (
	"context"

	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/handler"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// DieInPeek panics during Peek every time, so a worker calling it always
// produces a Fault tagged command.PhasePeek.
type DieInPeek struct{}

func (DieInPeek) Peek(ctx context.Context, cmd *command.Command) error {
	panic("dieinpeek: intentional peek failure")
}

func (DieInPeek) Process(ctx context.Context, cmd *command.Command, s *store.Store) (handler.Outcome, error) {
	return handler.NoChange, nil
}

func (DieInPeek) UpgradeDatabase(ctx context.Context, s *store.Store) error { return nil }

// DieInProcess succeeds at Peek but panics during Process, so a worker
// calling it always produces a Fault tagged command.PhaseProcess.
type DieInProcess struct{}

func (DieInProcess) Peek(ctx context.Context, cmd *command.Command) error {
	return nil
}

func (DieInProcess) Process(ctx context.Context, cmd *command.Command, s *store.Store) (handler.Outcome, error) {
	panic("dieinprocess: intentional process failure")
}

func (DieInProcess) UpgradeDatabase(ctx context.Context, s *store.Store) error { return nil }

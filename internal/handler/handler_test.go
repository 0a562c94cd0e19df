package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/store"
)

type noopHandler struct{}

func (noopHandler) Peek(ctx context.Context, cmd *command.Command) error { return nil }
func (noopHandler) Process(ctx context.Context, cmd *command.Command, s *store.Store) (Outcome, error) {
	return NoChange, nil
}
func (noopHandler) UpgradeDatabase(ctx context.Context, s *store.Store) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Ping", noopHandler{}))

	h, ok := reg.Lookup("Ping")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = reg.Lookup("Missing")
	assert.False(t, ok)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Ping", noopHandler{}))
	err := reg.Register("Ping", noopHandler{})
	assert.Error(t, err)
}

func TestMethodLinesListsRegistered(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Ping", noopHandler{}))
	require.NoError(t, reg.Register("Echo", noopHandler{}))
	assert.ElementsMatch(t, []string{"Ping", "Echo"}, reg.MethodLines())
}

func TestFaultError(t *testing.T) {
	f := &Fault{Phase: command.PhasePeek, Recover: "boom"}
	assert.Contains(t, f.Error(), "PEEK")
	assert.Contains(t, f.Error(), "boom")
}

func TestRegistryIsInstanceScoped(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	require.NoError(t, a.Register("Ping", noopHandler{}))

	_, ok := b.Lookup("Ping")
	assert.False(t, ok, "registering on one Registry must not affect another")
}

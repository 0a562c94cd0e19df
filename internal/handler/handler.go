// Package handler defines the Handler interface every command verb
// implements, and the registry that resolves a methodLine to one.
//
// A Handler is split into Peek and Process because the core runs them
// under very different guarantees. Peek must be idempotent and side-effect
// free against durable state — the core may call it on any node, more than
// once, outside any transaction. Process runs once, leader-only, inside a
// transaction the coordinator already opened; Process must never commit or
// roll back that transaction itself, and must be safe to re-enter from
// scratch if the coordinator reports a commit conflict and the worker
// retries.
package handler

import (
	"context"
	"fmt"

	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// Handler implements one methodLine's behavior.
type Handler interface {
	// Peek validates the request and may attach read-only context to the
	// command's response payload. It must not mutate durable state.
	// Whether the command is complete after Peek is read from cmd.Done():
	// Peek that calls cmd.Finalize means "Complete", one that doesn't means
	// "Escalate" to Process.
	Peek(ctx context.Context, cmd *command.Command) error

	// Process performs the command's durable side effects using s and sets
	// cmd.Response via cmd.Finalize before returning. s is only valid for
	// the duration of this call. The Outcome tells the worker whether the
	// surrounding transaction should be committed (Committed) or discarded
	// with no replication attempt (NoChange).
	Process(ctx context.Context, cmd *command.Command, s *store.Store) (Outcome, error)

	// UpgradeDatabase is called once per node startup, outside any
	// per-command transaction, so a handler can create or migrate the
	// tables it owns. Handlers with no schema of their own return nil.
	UpgradeDatabase(ctx context.Context, s *store.Store) error
}

// Outcome reports whether Process produced writes that need committing.
type Outcome int

const (
	// NoChange means Process made no writes; the worker rolls back the
	// transaction and does not attempt to commit or replicate it.
	NoChange Outcome = iota
	// Committed means Process applied writes; the worker asks the
	// Coordinator to commit (and, on conflict, may re-invoke Process on a
	// fresh transaction).
	Committed
)

// Phase tags which half of a Handler a Fault came from, so the worker
// knows which blacklist to quarantine the command into.
type Phase = command.Phase

// Fault wraps a panic recovered from a Handler call. The worker converts
// any panic escaping Peek or Process into a Fault rather than letting it
// take down the process, then uses Phase to decide whether to quarantine
// the (methodLine, userID) pair from peek or from process.
type Fault struct {
	Phase   Phase
	Recover any
}

func (f *Fault) Error() string {
	return fmt.Sprintf("handler: panic during %s: %v", f.Phase, f.Recover)
}

// Registry resolves a methodLine to the Handler that implements it. Per
// the redesign away from a single global registry, every Registry is an
// independent instance — a test can build one with only the handlers it
// needs, and a node can run more than one Core against different handler
// sets without them colliding.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a Handler for methodLine. Registering the same methodLine
// twice is a programmer error.
func (r *Registry) Register(methodLine string, h Handler) error {
	if _, exists := r.handlers[methodLine]; exists {
		return fmt.Errorf("handler: methodLine %q already registered", methodLine)
	}
	r.handlers[methodLine] = h
	return nil
}

// Lookup resolves methodLine to its Handler.
func (r *Registry) Lookup(methodLine string) (Handler, bool) {
	h, ok := r.handlers[methodLine]
	return h, ok
}

// MethodLines returns every registered methodLine, for status reporting.
func (r *Registry) MethodLines() []string {
	lines := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		lines = append(lines, name)
	}
	return lines
}

// UpgradeAll runs UpgradeDatabase on every registered Handler, in
// registration order being unspecified — handlers must not depend on
// running before or after one another.
func (r *Registry) UpgradeAll(ctx context.Context, s *store.Store) error {
	for name, h := range r.handlers {
		if err := h.UpgradeDatabase(ctx, s); err != nil {
			return fmt.Errorf("upgrade database for %q: %w", name, err)
		}
	}
	return nil
}

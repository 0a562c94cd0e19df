// Package dispatch wires the Scheduling Queue, the worker pool, the
// handler registry, the Quarantine Registry, and a Coordinator into the
// single entry point a node's ingress talks to: Core.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/dispatchd/internal/clock"
	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/coordinator"
	"github.com/mattjoyce/dispatchd/internal/events"
	"github.com/mattjoyce/dispatchd/internal/handler"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/quarantine"
	"github.com/mattjoyce/dispatchd/internal/squeue"
	"github.com/mattjoyce/dispatchd/internal/worker"
)

// Role is the node-level state reported by the Status command. It is
// coarser than the Coordinator's binary IsLeader: STANDDOWN and
// SYNCHRONIZING describe transitional states the Coordinator adapter
// doesn't model, and Core tracks them itself.
type Role string

const (
	RoleMastering     Role = "MASTERING"
	RoleSlaving       Role = "SLAVING"
	RoleStanddown     Role = "STANDDOWN"
	RoleSynchronizing Role = "SYNCHRONIZING"
)

// DefaultDeadlineWindow is used as a command's deadline when the caller
// submits one without setting Deadline explicitly (spec.md §6: "optional
// deadline, default = now + implementation-defined maximum").
const DefaultDeadlineWindow = 30 * time.Second

// Core is the dispatch core's single entry point: ingress calls Submit,
// and reads completed commands from Responses.
type Core struct {
	queue *squeue.Queue
	pool  *worker.Pool
	reg   *handler.Registry
	quar  *quarantine.Registry
	coord coordinator.Coordinator
	clk   clock.Clock
	hub   *events.Hub

	defaultDeadline time.Duration
	responses       chan *command.Command
	role            atomic.Value // Role
}

// Options bundles the collaborators New needs. Forward, WorkerConfig and
// DefaultDeadline are optional; zero values pick single-node-friendly
// defaults (no forwarding, worker.DefaultConfig, DefaultDeadlineWindow).
type Options struct {
	Clock           clock.Clock
	Registry        *handler.Registry
	Quarantine      *quarantine.Registry
	Coordinator     coordinator.Coordinator
	Hub             *events.Hub
	Forward         worker.ForwardFunc
	WorkerConfig    worker.Config
	ResponseSize    int
	DefaultDeadline time.Duration
}

// New builds a Core and the worker pool it owns, but does not start
// workers — call Start for that.
func New(opts Options) *Core {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(256)
	}
	if opts.ResponseSize <= 0 {
		opts.ResponseSize = 64
	}
	if opts.DefaultDeadline <= 0 {
		opts.DefaultDeadline = DefaultDeadlineWindow
	}

	q := squeue.New(opts.Clock)
	responses := make(chan *command.Command, opts.ResponseSize)

	pool := worker.New(q, opts.Clock, opts.Registry, opts.Quarantine, opts.Coordinator, opts.Forward, responses, opts.WorkerConfig)
	pool.OnQuarantine(opts.Hub.PublishQuarantine)

	c := &Core{
		queue:           q,
		pool:            pool,
		reg:             opts.Registry,
		quar:            opts.Quarantine,
		coord:           opts.Coordinator,
		clk:             opts.Clock,
		hub:             opts.Hub,
		defaultDeadline: opts.DefaultDeadline,
		responses:       responses,
	}

	if opts.Coordinator.IsLeader() {
		c.role.Store(RoleMastering)
	} else {
		c.role.Store(RoleSlaving)
	}
	return c
}

// Submit takes ownership of cmd, applying the default deadline window if
// the caller didn't set one, and admits it to the Scheduling Queue.
func (c *Core) Submit(cmd *command.Command) error {
	if cmd.Deadline <= 0 {
		cmd.Deadline = c.clk.NowMicros() + c.defaultDeadline.Microseconds()
	}
	if err := c.queue.Push(cmd); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// Responses returns the channel completed commands are published to. A
// command a follower forwards to the leader is not published here.
func (c *Core) Responses() <-chan *command.Command {
	return c.responses
}

// Events returns the Hub carrying quarantine and role-change notifications.
func (c *Core) Events() *events.Hub {
	return c.hub
}

// SetRole overrides the reported node state and publishes a role-change
// event. Callers drive this during startup (SYNCHRONIZING), promotion
// (MASTERING), demotion (SLAVING), and shutdown (STANDDOWN).
func (c *Core) SetRole(r Role) {
	c.role.Store(r)
	c.hub.PublishRoleChange(string(r))
}

// Role returns the currently reported node state.
func (c *Core) Role() Role {
	r, _ := c.role.Load().(Role)
	return r
}

// Start runs UpgradeDatabase once for every registered Handler, then
// starts the worker pool.
func (c *Core) Start(ctx context.Context) error {
	s, err := c.coord.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upgrade transaction: %w", err)
	}
	if err := c.reg.UpgradeAll(ctx, s); err != nil {
		_ = c.coord.Rollback(ctx, s)
		return fmt.Errorf("upgrade database: %w", err)
	}
	if _, err := c.coord.Commit(ctx, s); err != nil {
		return fmt.Errorf("commit upgrade transaction: %w", err)
	}

	c.pool.Start(ctx)
	log.Info("dispatch core started", "role", c.Role())
	return nil
}

// Stop drains in-flight commands and stops the worker pool.
func (c *Core) Stop() {
	c.SetRole(RoleStanddown)
	c.pool.Stop()
	log.Info("dispatch core stopped")
}

// StatusPayload is the JSON shape the well-known Status command and the
// HTTP status endpoint both return.
type StatusPayload struct {
	State           string   `json:"state"`
	QueueSize       int      `json:"queue_size"`
	InFlight        int64    `json:"in_flight"`
	MethodLines     []string `json:"method_lines"`
	PeekBlacklist   int      `json:"peek_blacklist_count"`
	ProcessBlacklst int      `json:"process_blacklist_count"`
}

// Status builds the current StatusPayload and marshals it to JSON. It is
// the function refhandler.Status.Fn should be set to.
func (c *Core) Status() (json.RawMessage, error) {
	peekCount, processCount := c.quar.Stats()
	payload := StatusPayload{
		State:           string(c.Role()),
		QueueSize:       c.queue.Size(),
		InFlight:        c.pool.InFlight(),
		MethodLines:     c.queue.MethodLines(),
		PeekBlacklist:   peekCount,
		ProcessBlacklst: processCount,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return b, nil
}

// Package worker runs the fixed-size pool of goroutines that drain the
// Scheduling Queue and drive each command through quarantine checks,
// Peek, optional forwarding, and Process.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/dispatchd/internal/clock"
	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/coordinator"
	"github.com/mattjoyce/dispatchd/internal/handler"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/quarantine"
	"github.com/mattjoyce/dispatchd/internal/squeue"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// ForwardFunc hands a command that escalated on a non-leader node off to
// the leader. Replication, addressing, and transport are outside the
// core's scope; the worker only needs to know the hand-off happened.
type ForwardFunc func(ctx context.Context, cmd *command.Command) error

// QuarantineNotifyFunc is called after a worker adds a fresh entry to the
// Quarantine Registry, so callers (the dispatch core) can fan the hit out
// to status subscribers. It is optional; a nil func is a no-op.
type QuarantineNotifyFunc func(phase, methodLine, userID string)

// Config controls pool sizing and the per-command tunables that aren't
// part of the command itself.
type Config struct {
	Workers     int
	TakeTick    time.Duration
	RetryConfig coordinator.RetryConfig
}

// DefaultConfig is a reasonable starting point for a single node.
var DefaultConfig = Config{
	Workers:     4,
	TakeTick:    200 * time.Millisecond,
	RetryConfig: coordinator.DefaultRetryConfig,
}

// Pool runs Config.Workers goroutines against one Scheduling Queue.
type Pool struct {
	queue   *squeue.Queue
	clock   clock.Clock
	reg     *handler.Registry
	quar    *quarantine.Registry
	coord   coordinator.Coordinator
	forward ForwardFunc
	notify  QuarantineNotifyFunc

	cfg       Config
	responses chan *command.Command

	inFlight int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Pool. responses receives every command a worker finalizes
// (forwarded commands are not published to it); it must be read by the
// caller or workers will eventually block publishing to it.
func New(q *squeue.Queue, clk clock.Clock, reg *handler.Registry, quar *quarantine.Registry, coord coordinator.Coordinator, forward ForwardFunc, responses chan *command.Command, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig.Workers
	}
	if cfg.TakeTick <= 0 {
		cfg.TakeTick = DefaultConfig.TakeTick
	}
	if cfg.RetryConfig.MaxRetries == 0 && cfg.RetryConfig.BaseDelay == 0 {
		cfg.RetryConfig = DefaultConfig.RetryConfig
	}
	return &Pool{
		queue:     q,
		clock:     clk,
		reg:       reg,
		quar:      quar,
		coord:     coord,
		forward:   forward,
		cfg:       cfg,
		responses: responses,
		stopCh:    make(chan struct{}),
	}
}

// OnQuarantine registers fn to be called whenever a worker quarantines a
// (methodLine, userID) pair. Must be called before Start; workers read it
// without synchronization.
func (p *Pool) OnQuarantine(fn QuarantineNotifyFunc) {
	p.notify = fn
}

// Start launches the worker goroutines. Returns immediately.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop requests cooperative shutdown and waits for every worker to drain
// its in-flight command and exit. A worker never abandons a command
// mid-process; it finishes the current take/handle cycle before checking
// the stop signal again, so Stop's latency is bounded by one TakeTick plus
// however long the slowest in-flight command takes.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// InFlight returns the number of commands currently owned by a worker
// (taken from the queue but not yet published to the response sink).
func (p *Pool) InFlight() int64 {
	return atomic.LoadInt64(&p.inFlight)
}

func (p *Pool) run(ctx context.Context, index int) {
	defer p.wg.Done()
	logger := log.WithWorker(index)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		cmd, err := p.queue.Take(p.cfg.TakeTick, &p.inFlight)
		if err != nil {
			continue // TimedOut: re-check the stop signal and try again
		}

		p.handle(ctx, cmd, logger)
	}
}

// handle drives one command through steps 2-6 of the worker loop. The
// admitted-counter bump for step 1 already happened inside queue.Take.
func (p *Pool) handle(ctx context.Context, cmd *command.Command, logger *slog.Logger) {
	methodLine := cmd.Request.MethodLine()
	userID := cmd.Request.UserID()

	published := true
	defer func() {
		atomic.AddInt64(&p.inFlight, -1)
		if published {
			p.responses <- cmd
		}
	}()

	// A deadline that has already passed is surfaced as a core-produced
	// timeout, never silently dropped and never handed to a handler.
	if cmd.Deadline <= p.clock.NowMicros() {
		cmd.Finalize(command.StatusTimeout, command.StatusTimeoutLabel, nil)
		return
	}

	if p.quar.PeekBlacklisted(methodLine, userID) {
		cmd.Finalize(command.StatusBlacklisted, command.StatusFailReason, nil)
		return
	}
	if p.coord.IsLeader() && p.quar.ProcessBlacklisted(methodLine, userID) {
		cmd.Finalize(command.StatusBlacklisted, command.StatusFailReason, nil)
		return
	}

	h, ok := p.reg.Lookup(methodLine)
	if !ok {
		logger.Warn("no handler registered", "method_line", methodLine)
		cmd.Finalize(command.StatusInternal, "UnknownMethod", nil)
		return
	}

	cmd.Timing.Start(command.PhasePeek, p.clock.NowMicros())
	peekErr := p.callPeek(ctx, h, cmd)
	cmd.Timing.Stop(command.PhasePeek, p.clock.NowMicros())

	if peekErr != nil {
		logger.Error("peek faulted", "method_line", methodLine, "error", peekErr)
		p.quar.QuarantinePeek(methodLine, userID)
		if p.notify != nil {
			p.notify("PEEK", methodLine, userID)
		}
		cmd.Finalize(command.StatusInternal, "Internal", nil)
		return
	}
	if cmd.Done() {
		return // Complete
	}

	if !p.coord.IsLeader() {
		if p.forward != nil {
			if err := p.forward(ctx, cmd); err != nil {
				logger.Warn("forward to leader failed", "method_line", methodLine, "error", err)
			}
		}
		published = false
		return
	}

	p.process(ctx, h, cmd, methodLine, userID, logger)
}

func (p *Pool) callPeek(ctx context.Context, h handler.Handler, cmd *command.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handler.Fault{Phase: command.PhasePeek, Recover: r}
		}
	}()
	return h.Peek(ctx, cmd)
}

// process drives Handler.Process through the Coordinator, retrying on
// CommitConflict from a fresh transaction up to RetryConfig.MaxRetries.
func (p *Pool) process(ctx context.Context, h handler.Handler, cmd *command.Command, methodLine, userID string, logger *slog.Logger) {
	cmd.Timing.Start(command.PhaseProcess, p.clock.NowMicros())
	defer func() { cmd.Timing.Stop(command.PhaseProcess, p.clock.NowMicros()) }()

	for attempt := 0; attempt <= p.cfg.RetryConfig.MaxRetries; attempt++ {
		s, err := p.coord.Begin(ctx)
		if err != nil {
			logger.Error("begin transaction failed", "method_line", methodLine, "error", err)
			cmd.Finalize(command.StatusInternal, "Internal", nil)
			return
		}

		outcome, perr := p.callProcess(ctx, h, cmd, s)
		if perr != nil {
			_ = p.coord.Rollback(ctx, s)
			logger.Error("process faulted", "method_line", methodLine, "error", perr)
			p.quar.QuarantineProcess(methodLine, userID)
			if p.notify != nil {
				p.notify("PROCESS", methodLine, userID)
			}
			cmd.Finalize(command.StatusInternal, "Internal", nil)
			return
		}

		if outcome == handler.NoChange {
			_ = p.coord.Rollback(ctx, s)
			return
		}

		cmd.Timing.Start(command.PhaseCommit, p.clock.NowMicros())
		status, cerr := p.coord.Commit(ctx, s)
		cmd.Timing.Stop(command.PhaseCommit, p.clock.NowMicros())

		switch status {
		case coordinator.CommitOK:
			return
		case coordinator.CommitConflict:
			if attempt < p.cfg.RetryConfig.MaxRetries {
				time.Sleep(coordinator.Backoff(p.cfg.RetryConfig, attempt))
				continue
			}
			logger.Warn("commit conflict exhausted retries", "method_line", methodLine)
			cmd.Finalize(command.StatusInternal, "Internal", nil)
			return
		default: // CommitFatal
			logger.Error("commit failed fatally", "method_line", methodLine, "error", cerr)
			cmd.Finalize(command.StatusInternal, "Internal", nil)
			return
		}
	}
}

func (p *Pool) callProcess(ctx context.Context, h handler.Handler, cmd *command.Command, s *store.Store) (outcome handler.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handler.Fault{Phase: command.PhaseProcess, Recover: r}
		}
	}()
	return h.Process(ctx, cmd, s)
}

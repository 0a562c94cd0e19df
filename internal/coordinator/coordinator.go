// Package coordinator defines the transaction lifecycle a worker drives
// around a single command's Process call, and the node-role query that
// decides whether this node is allowed to process at all.
//
// Each command gets its own transaction, independent of every other
// command in flight: Begin opens one and hands it to the Handler wrapped in
// a store.Store, and exactly one of Commit or Rollback — given that same
// Store — closes it. The Handler itself must never commit or roll back —
// only the coordinator may, because only the coordinator knows whether the
// surrounding distributed commit succeeded.
package coordinator

import (
	"context"
	"math/rand"
	"time"

	"github.com/mattjoyce/dispatchd/internal/store"
)

// CommitStatus classifies the outcome of Commit.
type CommitStatus int

const (
	// CommitOK means the transaction committed durably.
	CommitOK CommitStatus = iota
	// CommitConflict means the transaction was rejected by a concurrent
	// writer and should be retried from a fresh Begin/Process pass.
	CommitConflict
	// CommitFatal means the transaction failed for a reason a retry won't
	// fix (disk full, schema mismatch, corruption).
	CommitFatal
)

func (s CommitStatus) String() string {
	switch s {
	case CommitOK:
		return "OK"
	case CommitConflict:
		return "CONFLICT"
	case CommitFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

//go:generate mockgen -destination=mockcoordinator/mock_coordinator.go -package=mockcoordinator github.com/mattjoyce/dispatchd/internal/coordinator Coordinator

// Coordinator opens and closes the transaction a Handler's Process call
// runs inside, and answers whether this node may process at all.
type Coordinator interface {
	// Begin opens a new transaction and returns a Store wrapping it. Each
	// call opens an independent transaction, so concurrent workers may
	// Begin at the same time without colliding on shared Coordinator state.
	Begin(ctx context.Context) (*store.Store, error)

	// Commit closes the transaction wrapped by s, returning whether it
	// applied. s must be the Store a prior Begin on this Coordinator
	// returned.
	Commit(ctx context.Context, s *store.Store) (CommitStatus, error)

	// Rollback discards the transaction wrapped by s. Safe to call after
	// Commit has already closed it; a no-op in that case.
	Rollback(ctx context.Context, s *store.Store) error

	// IsLeader reports whether this node currently holds processing
	// authority. Workers consult it after Peek succeeds and before calling
	// Process; a false result means the command must be forwarded instead.
	IsLeader() bool
}

// RetryConfig controls the commit-conflict retry loop a worker drives
// around Coordinator.Commit. Grounded on the exponential-backoff-with-
// jitter shape used for transient SQLite contention in the rest of the
// example corpus.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig is used when a node config doesn't override it.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  20 * time.Millisecond,
	MaxDelay:   500 * time.Millisecond,
}

// Backoff returns the delay to sleep before retry attempt (0-indexed)
// under cfg: exponential growth capped at MaxDelay, plus jitter in
// [0, BaseDelay) so concurrently-retrying workers don't converge on the
// same instant and re-collide.
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(cfg.BaseDelay)))
	return delay + jitter
}

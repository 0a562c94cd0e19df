package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dispatchd/internal/clock"
	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/coordinator"
	"github.com/mattjoyce/dispatchd/internal/handler"
	"github.com/mattjoyce/dispatchd/internal/handler/refhandler"
	"github.com/mattjoyce/dispatchd/internal/handler/testhandler"
	"github.com/mattjoyce/dispatchd/internal/quarantine"
	"github.com/mattjoyce/dispatchd/internal/squeue"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// fakeCoordinator is a Coordinator whose Begin/Commit/Rollback never touch
// a real database, so worker tests can exercise the commit-retry and
// leader/follower branches without sqlite.
type fakeCoordinator struct {
	leader      bool
	commitSeq   []coordinator.CommitStatus // consumed in order, repeats last entry once exhausted
	commitCalls int
	begun       bool
}

func (c *fakeCoordinator) Begin(ctx context.Context) (*store.Store, error) {
	c.begun = true
	return store.New(nil), nil
}

func (c *fakeCoordinator) Commit(ctx context.Context, s *store.Store) (coordinator.CommitStatus, error) {
	c.begun = false
	status := coordinator.CommitOK
	if len(c.commitSeq) > 0 {
		idx := c.commitCalls
		if idx >= len(c.commitSeq) {
			idx = len(c.commitSeq) - 1
		}
		status = c.commitSeq[idx]
	}
	c.commitCalls++
	return status, nil
}

func (c *fakeCoordinator) Rollback(ctx context.Context, s *store.Store) error {
	c.begun = false
	return nil
}

func (c *fakeCoordinator) IsLeader() bool { return c.leader }

// escalatingHandler always escalates to Process, which finalizes with a
// caller-supplied outcome and status.
type escalatingHandler struct {
	outcome handler.Outcome
	status  int
}

func (escalatingHandler) Peek(ctx context.Context, cmd *command.Command) error { return nil }

func (h escalatingHandler) Process(ctx context.Context, cmd *command.Command, s *store.Store) (handler.Outcome, error) {
	cmd.Finalize(h.status, "", nil)
	return h.outcome, nil
}

func (escalatingHandler) UpgradeDatabase(ctx context.Context, s *store.Store) error { return nil }

func newTestPool(q *squeue.Queue, clk clock.Clock, reg *handler.Registry, quar *quarantine.Registry, coord coordinator.Coordinator, forward ForwardFunc) (*Pool, chan *command.Command) {
	responses := make(chan *command.Command, 16)
	p := New(q, clk, reg, quar, coord, forward, responses, Config{Workers: 1, TakeTick: 20 * time.Millisecond})
	return p, responses
}

func submitAndWait(t *testing.T, q *squeue.Queue, p *Pool, responses chan *command.Command, cmd *command.Command) *command.Command {
	t.Helper()
	require.NoError(t, q.Push(cmd))
	p.Start(context.Background())
	defer p.Stop()

	select {
	case got := <-responses:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func TestHandlePeekComplete(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register("Echo", refhandler.Echo{}))
	quar := quarantine.New()
	coord := &fakeCoordinator{leader: true}

	p, responses := newTestPool(q, clk, reg, quar, coord, nil)
	cmd := command.New("Echo", "", 0, 0, 1_000_000)
	got := submitAndWait(t, q, p, responses, cmd)

	assert.Equal(t, command.StatusOK, got.Response.Status)
}

func TestHandleDeadlineAlreadyExpired(t *testing.T) {
	clk := clock.NewFixed(10_000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	quar := quarantine.New()
	coord := &fakeCoordinator{leader: true}

	p, responses := newTestPool(q, clk, reg, quar, coord, nil)
	cmd := command.New("anything", "", 0, 0, 5_000) // deadline already behind the clock
	got := submitAndWait(t, q, p, responses, cmd)

	assert.Equal(t, command.StatusTimeout, got.Response.Status)
}

func TestHandlePeekFaultFirstInternalThenBlacklisted(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register("dieinpeek", testhandler.DieInPeek{}))
	quar := quarantine.New()
	coord := &fakeCoordinator{leader: true}

	first := command.New("dieinpeek", "31", 0, 0, 1_000_000)
	p1, responses1 := newTestPool(q, clk, reg, quar, coord, nil)
	got1 := submitAndWait(t, q, p1, responses1, first)
	assert.Equal(t, command.StatusInternal, got1.Response.Status)

	second := command.New("dieinpeek", "31", 0, 0, 1_000_000)
	p2, responses2 := newTestPool(q, clk, reg, quar, coord, nil)
	got2 := submitAndWait(t, q, p2, responses2, second)
	assert.Equal(t, command.StatusBlacklisted, got2.Response.Status)
}

func TestHandleUserIDScopingOfBlacklist(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register("dieinpeek", testhandler.DieInPeek{}))
	quar := quarantine.New()
	quar.QuarantinePeek("dieinpeek", "31")
	coord := &fakeCoordinator{leader: true}

	p, responses := newTestPool(q, clk, reg, quar, coord, nil)

	// Different userID, same methodLine: the crash must still happen —
	// blacklist entries don't leak across userIDs.
	cmd := command.New("dieinpeek", "99", 0, 0, 1_000_000)
	got := submitAndWait(t, q, p, responses, cmd)
	assert.Equal(t, command.StatusInternal, got.Response.Status)
}

func TestHandleProcessFaultQuarantinesAcrossPromotion(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register("dieinprocess", testhandler.DieInProcess{}))
	quar := quarantine.New()

	// First pool stands in for the leader that crashes mid-process; a
	// second pool sharing the same quarantine registry object stands in for
	// the follower that gets promoted afterward. The registry itself is
	// node-local and not replicated; sharing the object hands the entry over.
	leaderCoord := &fakeCoordinator{leader: true}
	first := command.New("dieinprocess", "32", 0, 0, 1_000_000)
	p1, responses1 := newTestPool(q, clk, reg, quar, leaderCoord, nil)
	got1 := submitAndWait(t, q, p1, responses1, first)
	assert.Equal(t, command.StatusInternal, got1.Response.Status)

	promotedCoord := &fakeCoordinator{leader: true}
	second := command.New("dieinprocess", "32", 0, 0, 1_000_000)
	p2, responses2 := newTestPool(q, clk, reg, quar, promotedCoord, nil)
	got2 := submitAndWait(t, q, p2, responses2, second)
	assert.Equal(t, command.StatusBlacklisted, got2.Response.Status)

	// A different userID on the same methodLine must still crash: the
	// blacklist this promoted node inherited is scoped, not global.
	third := command.New("dieinprocess", "33", 0, 0, 1_000_000)
	p3, responses3 := newTestPool(q, clk, reg, quar, promotedCoord, nil)
	got3 := submitAndWait(t, q, p3, responses3, third)
	assert.Equal(t, command.StatusInternal, got3.Response.Status)
}

func TestHandleFollowerForwardsWithoutPublishing(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register("escalate", escalatingHandler{outcome: handler.Committed, status: command.StatusOK}))
	quar := quarantine.New()
	coord := &fakeCoordinator{leader: false}

	forwarded := make(chan *command.Command, 1)
	forward := func(ctx context.Context, cmd *command.Command) error {
		forwarded <- cmd
		return nil
	}

	p, responses := newTestPool(q, clk, reg, quar, coord, forward)
	cmd := command.New("escalate", "", 0, 0, 1_000_000)
	require.NoError(t, q.Push(cmd))
	p.Start(context.Background())
	defer p.Stop()

	select {
	case got := <-forwarded:
		assert.Equal(t, cmd.ID, got.ID)
		assert.False(t, got.Done(), "a forwarded command is not finalized on the follower")
	case <-time.After(time.Second):
		t.Fatal("command was not forwarded")
	}

	select {
	case <-responses:
		t.Fatal("a forwarded command must not be published to the local response sink")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessCommitConflictRetriesThenSucceeds(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register("write", escalatingHandler{outcome: handler.Committed, status: command.StatusOK}))
	quar := quarantine.New()
	coord := &fakeCoordinator{leader: true, commitSeq: []coordinator.CommitStatus{coordinator.CommitConflict, coordinator.CommitOK}}

	p, responses := newTestPool(q, clk, reg, quar, coord, nil)
	p.cfg.RetryConfig = coordinator.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	cmd := command.New("write", "", 0, 0, 1_000_000)
	got := submitAndWait(t, q, p, responses, cmd)

	assert.Equal(t, command.StatusOK, got.Response.Status)
	assert.Equal(t, 2, coord.commitCalls)
}

func TestProcessNoChangeRollsBackWithoutCommit(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := squeue.New(clk)
	reg := handler.NewRegistry()
	require.NoError(t, reg.Register("noop-write", escalatingHandler{outcome: handler.NoChange, status: command.StatusOK}))
	quar := quarantine.New()
	coord := &fakeCoordinator{leader: true}

	p, responses := newTestPool(q, clk, reg, quar, coord, nil)
	cmd := command.New("noop-write", "", 0, 0, 1_000_000)
	got := submitAndWait(t, q, p, responses, cmd)

	assert.Equal(t, command.StatusOK, got.Response.Status)
	assert.Equal(t, 0, coord.commitCalls)
}

package squeue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dispatchd/internal/clock"
	"github.com/mattjoyce/dispatchd/internal/command"
)

func pushReady(t *testing.T, q *Queue, methodLine string, priority int, deadline int64) *command.Command {
	t.Helper()
	c := command.New(methodLine, "", priority, 0, deadline)
	require.NoError(t, q.Push(c))
	return c
}

func TestPriorityOrdering(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	low := pushReady(t, q, "low", 1, 1_000_000)
	high := pushReady(t, q, "high", 5, 1_000_000)
	mid := pushReady(t, q, "mid", 3, 1_000_000)

	var admitted int64
	got1, err := q.Take(time.Second, &admitted)
	require.NoError(t, err)
	assert.Equal(t, high.ID, got1.ID)

	got2, err := q.Take(time.Second, &admitted)
	require.NoError(t, err)
	assert.Equal(t, mid.ID, got2.ID)

	got3, err := q.Take(time.Second, &admitted)
	require.NoError(t, err)
	assert.Equal(t, low.ID, got3.ID)

	assert.Equal(t, int64(3), atomic.LoadInt64(&admitted))
	assert.True(t, q.Empty())
}

func TestFIFOWithinPriority(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	first := pushReady(t, q, "first", 1, 1_000_000)
	second := pushReady(t, q, "second", 1, 1_000_000)
	third := pushReady(t, q, "third", 1, 1_000_000)

	var admitted int64
	got1, _ := q.Take(time.Second, &admitted)
	got2, _ := q.Take(time.Second, &admitted)
	got3, _ := q.Take(time.Second, &admitted)

	assert.Equal(t, first.ID, got1.ID)
	assert.Equal(t, second.ID, got2.ID)
	assert.Equal(t, third.ID, got3.ID)
}

// TestDeadlinePreemption covers deadline preemption: a low-priority command whose deadline
// has already passed is dispensed ahead of a ready high-priority command.
func TestDeadlinePreemption(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	pushReady(t, q, "high", 9, 1_000_000)
	expired := command.New("expired", "", 1, 0, 1500)
	require.NoError(t, q.Push(expired))

	clk.Set(2000) // past expired's deadline

	var admitted int64
	got, err := q.Take(time.Second, &admitted)
	require.NoError(t, err)
	assert.Equal(t, expired.ID, got.ID)
}

// TestFutureSchedulingHeldBack covers S5: a command scheduled to execute in
// the future is not dispensed until the clock reaches its execute time, even
// though the queue is otherwise empty.
func TestFutureSchedulingHeldBack(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	future := command.New("future", "", 0, 5000, 1_000_000)
	require.NoError(t, q.Push(future))

	var admitted int64
	_, err := q.Take(50*time.Millisecond, &admitted)
	assert.ErrorIs(t, err, ErrTimedOut)

	clk.Set(5000)
	got, err := q.Take(time.Second, &admitted)
	require.NoError(t, err)
	assert.Equal(t, future.ID, got.ID)
}

func TestLowerPriorityDoesNotBlockOnUnreadyHigherPriority(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	future := command.New("future-high", "", 9, 50_000, 1_000_000)
	require.NoError(t, q.Push(future))
	ready := pushReady(t, q, "ready-low", 1, 1_000_000)

	var admitted int64
	got, err := q.Take(time.Second, &admitted)
	require.NoError(t, err)
	assert.Equal(t, ready.ID, got.ID)
}

func TestTakeTimesOutWhenEmpty(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	var admitted int64
	_, err := q.Take(60*time.Millisecond, &admitted)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, int64(0), admitted)
}

func TestTakeWakesOnPush(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	var admitted int64
	done := make(chan *command.Command, 1)
	go func() {
		got, err := q.Take(2*time.Second, &admitted)
		if err == nil {
			done <- got
		}
	}()

	time.Sleep(10 * time.Millisecond)
	cmd := pushReady(t, q, "woke-up", 0, 1_000_000)

	select {
	case got := <-done:
		assert.Equal(t, cmd.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake on Push")
	}
}

func TestPushRejectsDeadlineBeforeExecuteAt(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	c := command.New("bad", "", 0, 5000, 1000)
	err := q.Push(c)
	assert.ErrorIs(t, err, ErrInvalidDeadline)
	assert.True(t, q.Empty())
}

func TestRemoveByID(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	cmd := pushReady(t, q, "removable", 0, 1_000_000)
	assert.Equal(t, 1, q.Size())

	assert.True(t, q.RemoveByID(cmd.ID))
	assert.False(t, q.RemoveByID(cmd.ID))
	assert.Equal(t, 0, q.Size())

	var admitted int64
	_, err := q.Take(30*time.Millisecond, &admitted)
	assert.ErrorIs(t, err, ErrTimedOut)
}

// TestAbandonFutureAfter covers S6: commands scheduled further out than the
// abandon window are discarded; near-term and already-ready ones survive.
func TestAbandonFutureAfter(t *testing.T) {
	clk := clock.NewFixed(0)
	q := New(clk)

	near := command.New("near", "", 0, 500, 1_000_000)
	far := command.New("far", "", 0, 50_000, 1_000_000)
	require.NoError(t, q.Push(near))
	require.NoError(t, q.Push(far))

	removed := q.AbandonFutureAfter(10) // 10ms = 10,000us window
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, q.Size())

	assert.True(t, q.RemoveByID(near.ID))
	assert.False(t, q.RemoveByID(far.ID))
}

func TestSizeConservation(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	for i := 0; i < 5; i++ {
		pushReady(t, q, "item", i, 1_000_000)
	}
	assert.Equal(t, 5, q.Size())

	var admitted int64
	for i := 0; i < 5; i++ {
		_, err := q.Take(time.Second, &admitted)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), atomic.LoadInt64(&admitted))
		assert.Equal(t, 4-i, q.Size())
	}
}

func TestMethodLinesOrdering(t *testing.T) {
	clk := clock.NewFixed(1000)
	q := New(clk)

	pushReady(t, q, "low-a", 1, 1_000_000)
	pushReady(t, q, "low-b", 1, 1_000_000)
	pushReady(t, q, "high", 9, 1_000_000)

	assert.Equal(t, []string{"high", "low-a", "low-b"}, q.MethodLines())
}

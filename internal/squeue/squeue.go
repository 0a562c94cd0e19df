// Package squeue implements the Scheduling Queue: a concurrent,
// multi-priority, time-scheduled command queue with deadline-driven
// preemption.
//
// The two indices described in the original design — priority buckets
// ordered by execute-time, and a deadline index used to preempt timed-out
// work — are modeled here as two container/heap structures instead of the
// nested ordered-map/multimap pair the original used. Go's standard
// library has no ordered multimap, and container/heap is the idiomatic
// stand-in: priorities are walked highest-first by keeping them in a sorted
// slice (so there is no reverse-iterator to get wrong), each priority
// bucket is a min-heap ordered by (executeTime, sequence) so within-priority
// ties resolve by insertion order, and the deadline index stores a logical
// key (deadline, sequence) resolved against a sequence->entry map at lookup
// time rather than holding a raw reference into the bucket — so erasing a
// command from a bucket can never leave a dangling pointer in the deadline
// index.
package squeue

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/dispatchd/internal/clock"
	"github.com/mattjoyce/dispatchd/internal/command"
)

// ErrTimedOut is returned by Take when timeout elapses with no workable
// command available.
var ErrTimedOut = errors.New("squeue: timed out waiting for a workable command")

// ErrInvalidDeadline is returned by Push when a command's deadline is
// earlier than its execute time — a programmer-contract violation per
// spec.md §7, modeled as an error rather than a panic so callers can
// choose how fatal to treat it.
var ErrInvalidDeadline = errors.New("squeue: deadline precedes commandExecuteTime")

// pollTick bounds how long Take can sleep between re-checks of the
// dispatch algorithm. It both caps shutdown latency (spec.md §5: "shutdown
// uses a small tick so shutdown latency ≤ one tick") and is the mechanism
// by which a newly-ready scheduled command or an expired deadline gets
// noticed without a dedicated wakeup for every possible future instant.
const pollTick = 25 * time.Millisecond

// entry is one queued command plus its queue-owned scheduling metadata.
// sequence breaks ties within a priority bucket (ascending executeAt) and
// is also the logical key the deadline index resolves through.
type entry struct {
	cmd       *command.Command
	priority  int
	executeAt int64
	deadline  int64
	sequence  uint64

	bucketIdx int // maintained by bucketHeap's heap.Interface
	dlIdx     int // not maintained: the deadline index tracks positions on deadlineKey.dlIdx
}

// Queue is the Scheduling Queue. The zero value is not usable; construct
// with New.
type Queue struct {
	mu    sync.Mutex
	clock clock.Clock

	priorities []int // active priorities, descending
	buckets    map[int]*bucketHeap
	deadlines  *deadlineHeap
	bySeq      map[uint64]*entry
	byID       map[string]*entry

	seq  uint64
	size int

	signal chan struct{} // closed and replaced on every Push to broadcast waiters
}

// New returns an empty Queue that schedules against clk.
func New(clk clock.Clock) *Queue {
	return &Queue{
		clock:     clk,
		buckets:   make(map[int]*bucketHeap),
		deadlines: &deadlineHeap{},
		bySeq:     make(map[uint64]*entry),
		byID:      make(map[string]*entry),
		signal:    make(chan struct{}),
	}
}

// Push transfers ownership of cmd into the queue. It starts the command's
// QUEUE_WORKER timer and inserts it into both indices atomically under the
// queue lock, then wakes exactly one waiter (Push itself doesn't know how
// many workers are asleep; the broadcast-and-recheck loop in Take ensures
// only one of them actually wins the command).
func (q *Queue) Push(cmd *command.Command) error {
	executeAt := cmd.ExecuteAt()
	if cmd.Deadline < executeAt {
		return ErrInvalidDeadline
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.NowMicros()
	cmd.Timing.Start(command.PhaseQueueWorker, now)

	seq := q.seq
	q.seq++

	e := &entry{
		cmd:       cmd,
		priority:  cmd.Priority,
		executeAt: executeAt,
		deadline:  cmd.Deadline,
		sequence:  seq,
	}

	bucket, ok := q.buckets[cmd.Priority]
	if !ok {
		bucket = &bucketHeap{}
		q.buckets[cmd.Priority] = bucket
		q.insertPriority(cmd.Priority)
	}
	heap.Push(bucket, e)

	heap.Push(q.deadlines, &deadlineKey{deadline: cmd.Deadline, sequence: seq})

	q.bySeq[seq] = e
	q.byID[cmd.ID] = e
	q.size++

	q.broadcast()
	return nil
}

// Take blocks until a workable command is available or timeout elapses.
// admitted is incremented exactly once, under the queue lock and strictly
// before the command leaves the indices, so an external observer computing
// queue.Size()+*admitted never sees a command vanish from both at once.
func (q *Queue) Take(timeout time.Duration, admitted *int64) (*command.Command, error) {
	deadlineWall := time.Now().Add(timeout)

	q.mu.Lock()
	for {
		now := q.clock.NowMicros()
		if e, ok := q.dispenseLocked(now); ok {
			e.cmd.Timing.Stop(command.PhaseQueueWorker, now)
			atomic.AddInt64(admitted, 1)
			q.removeEntryLocked(e)
			q.mu.Unlock()
			return e.cmd, nil
		}

		remaining := time.Until(deadlineWall)
		if remaining <= 0 {
			q.mu.Unlock()
			return nil, ErrTimedOut
		}

		wait := pollTick
		if remaining < wait {
			wait = remaining
		}
		sig := q.signal
		q.mu.Unlock()

		select {
		case <-sig:
		case <-time.After(wait):
		}
		q.mu.Lock()
	}
}

// dispenseLocked implements the dispense algorithm from spec.md §4.1. It
// returns the next workable entry without removing it — removal and the
// admitted-counter bump are the caller's responsibility, and happen in a
// specific order Take must preserve.
func (q *Queue) dispenseLocked(now int64) (*entry, bool) {
	// Deadline preemption: surface any command whose deadline has already
	// passed, regardless of priority or execute-time ordering. Stale
	// secondary-index entries (their primary slot already gone) are
	// dropped as we walk past them.
	for q.deadlines.Len() > 0 {
		top := (*q.deadlines)[0]
		if top.deadline >= now {
			break
		}
		e, ok := q.bySeq[top.sequence]
		if !ok {
			heap.Pop(q.deadlines)
			continue
		}
		return e, true
	}

	// Normal dispatch: walk priorities highest to lowest, inspecting only
	// the earliest-execute-time entry in each bucket.
	for _, p := range q.priorities {
		bucket := q.buckets[p]
		if bucket.Len() == 0 {
			continue
		}
		top := (*bucket)[0]
		if top.executeAt <= now {
			return top, true
		}
	}
	return nil, false
}

// removeEntryLocked deletes e from both indices. Callers must hold q.mu.
func (q *Queue) removeEntryLocked(e *entry) {
	bucket := q.buckets[e.priority]
	if bucket != nil {
		heap.Remove(bucket, e.bucketIdx)
		if bucket.Len() == 0 {
			delete(q.buckets, e.priority)
			q.removePriority(e.priority)
		}
	}

	if dk, ok := q.findDeadlineKey(e.sequence); ok {
		heap.Remove(q.deadlines, dk.dlIdxRef())
	}

	delete(q.bySeq, e.sequence)
	delete(q.byID, e.cmd.ID)
	q.size--
}

// findDeadlineKey scans the deadline index for the logical key matching
// sequence. The deadline index is small relative to bucket churn in
// practice (one entry per live command), so a linear scan here is simpler
// than threading a second index just for removal, and keeps the "resolve
// at lookup time" contract honest: nothing but sequence numbers crosses
// from the primary index into the secondary one.
func (q *Queue) findDeadlineKey(sequence uint64) (*deadlineKey, bool) {
	for _, dk := range *q.deadlines {
		if dk.sequence == sequence {
			return dk, true
		}
	}
	return nil, false
}

func (dk *deadlineKey) dlIdxRef() int { return dk.dlIdx }

// insertPriority adds p to the descending-sorted priorities slice.
func (q *Queue) insertPriority(p int) {
	i := sort.Search(len(q.priorities), func(i int) bool { return q.priorities[i] <= p })
	q.priorities = append(q.priorities, 0)
	copy(q.priorities[i+1:], q.priorities[i:])
	q.priorities[i] = p
}

// removePriority removes p from the descending-sorted priorities slice.
func (q *Queue) removePriority(p int) {
	for i, v := range q.priorities {
		if v == p {
			q.priorities = append(q.priorities[:i], q.priorities[i+1:]...)
			return
		}
	}
}

func (q *Queue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Size returns the number of queued commands.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Empty reports whether the queue currently holds no commands.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size == 0
}

// MethodLines returns the methodLine of every queued command, ordered by
// priority (highest first) and then by execute time, for status reporting.
func (q *Queue) MethodLines() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	lines := make([]string, 0, q.size)
	for _, p := range q.priorities {
		bucket := q.buckets[p]
		entries := append([]*entry(nil), (*bucket)...)
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].executeAt != entries[j].executeAt {
				return entries[i].executeAt < entries[j].executeAt
			}
			return entries[i].sequence < entries[j].sequence
		})
		for _, e := range entries {
			lines = append(lines, e.cmd.Request.MethodLine())
		}
	}
	return lines
}

// RemoveByID removes the command with the given id, if any is queued.
// Reports whether a command was removed. Per spec.md's Open Questions,
// ids are assumed unique; behavior with duplicate ids is unspecified.
func (q *Queue) RemoveByID(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok {
		return false
	}
	q.removeEntryLocked(e)
	return true
}

// AbandonFutureAfter discards every queued command whose execute time is
// more than windowMs beyond the current clock reading. Returns the number
// of commands discarded. In-flight commands (already owned by a worker)
// are invisible to this call by construction — they've already left the
// queue's indices.
func (q *Queue) AbandonFutureAfter(windowMs int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit := q.clock.NowMicros() + windowMs*1000
	var toRemove []*entry
	for _, p := range q.priorities {
		for _, e := range *q.buckets[p] {
			if e.executeAt > limit {
				toRemove = append(toRemove, e)
			}
		}
	}
	for _, e := range toRemove {
		q.removeEntryLocked(e)
	}
	return len(toRemove)
}

// Package command defines Command, the unit of work that flows through
// the dispatch core: ingress produces one, the Scheduling Queue and a
// single Worker own it in turn, and the Handler populates its Response
// exactly once before it becomes terminal.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Phase tags a Timing counter to the component that was driving the
// command when the counter ran.
type Phase string

const (
	PhaseQueueWorker Phase = "QUEUE_WORKER"
	PhasePeek        Phase = "PEEK"
	PhaseProcess     Phase = "PROCESS"
	PhaseCommit      Phase = "COMMIT"
)

// Well-known request keys, mirroring the original's request table.
const (
	KeyMethodLine = "methodLine"
	KeyUserID     = "userID"
	KeyExecuteAt  = "commandExecuteTime"
)

// Request is the key/value bag carried by a Command: the method line, an
// optional grouping key for quarantine, an optional explicit execute time,
// and whatever else the caller attaches. Request also carries a typed
// Payload for structured data, since an all-string map can't hold the
// arbitrary JSON bodies the reference handlers exchange with the store.
type Request struct {
	Values  map[string]string
	Payload json.RawMessage
}

// NewRequest builds a Request with the well-known keys populated.
func NewRequest(methodLine, userID string) Request {
	values := map[string]string{KeyMethodLine: methodLine}
	if userID != "" {
		values[KeyUserID] = userID
	}
	return Request{Values: values}
}

// MethodLine returns the request's methodLine, or "" if unset.
func (r Request) MethodLine() string { return r.Values[KeyMethodLine] }

// UserID returns the request's grouping key, or "" if unset.
func (r Request) UserID() string { return r.Values[KeyUserID] }

// Status codes the core itself produces (spec.md §6). Handlers are free to
// set any other status code on success.
const (
	StatusOK           = 200
	StatusBlacklisted  = 500
	StatusTimeout      = 555
	StatusInternal     = 500
	StatusFailReason   = "Blacklisted"
	StatusTimeoutLabel = "Timeout"
)

// Response is the write-once result populated by the Handler (or by the
// worker, for quarantine/timeout short circuits).
type Response struct {
	Status  int
	Reason  string
	Payload json.RawMessage
}

// Timing holds the four phase counters named in spec.md §3. Each counter
// tracks microseconds elapsed between Start and Stop; a counter that was
// never started reports zero.
type Timing struct {
	counters map[Phase]*counter
}

type counter struct {
	startedAt int64
	elapsed   int64
	running   bool
}

// NewTiming returns an empty Timing with all four known phases present.
func NewTiming() *Timing {
	t := &Timing{counters: make(map[Phase]*counter, 4)}
	for _, p := range []Phase{PhaseQueueWorker, PhasePeek, PhaseProcess, PhaseCommit} {
		t.counters[p] = &counter{}
	}
	return t
}

// Start begins timing phase at nowMicros. Starting an already-running phase
// is a no-op: only the component currently holding the command is expected
// to call Start/Stop, and it should do so exactly once per phase per visit.
func (t *Timing) Start(p Phase, nowMicros int64) {
	c := t.counter(p)
	if c.running {
		return
	}
	c.startedAt = nowMicros
	c.running = true
}

// Stop ends timing phase at nowMicros, accumulating elapsed time. Stopping a
// phase that was never started is a no-op.
func (t *Timing) Stop(p Phase, nowMicros int64) {
	c := t.counter(p)
	if !c.running {
		return
	}
	c.elapsed += nowMicros - c.startedAt
	c.running = false
}

// ElapsedMicros returns the accumulated duration for phase, in microseconds.
func (t *Timing) ElapsedMicros(p Phase) int64 {
	return t.counter(p).elapsed
}

func (t *Timing) counter(p Phase) *counter {
	c, ok := t.counters[p]
	if !ok {
		c = &counter{}
		t.counters[p] = c
	}
	return c
}

// Command is the unit of work dispatched through the core. See the package
// doc for the ownership contract: exactly one of {the Queue, a Worker, the
// caller} holds a Command at any instant, and once Response is non-nil the
// Command is terminal and must never re-enter the Queue.
type Command struct {
	ID       string
	Request  Request
	Priority int
	Deadline int64 // absolute microseconds
	Response *Response
	Timing   *Timing
}

// NewID returns a fresh, globally unique command id.
func NewID() string {
	return uuid.NewString()
}

// New builds a Command ready for submission. executeAt is the absolute
// microsecond time before which the command must not be dispensed (0 means
// "immediately": the queue treats it as already due); deadline must be
// >= executeAt or the command is rejected at Push, per spec.md §3.
func New(methodLine, userID string, priority int, executeAt, deadline int64) *Command {
	req := NewRequest(methodLine, userID)
	if executeAt > 0 {
		req.Values[KeyExecuteAt] = fmt.Sprintf("%d", executeAt)
	}
	return &Command{
		ID:       NewID(),
		Request:  req,
		Priority: priority,
		Deadline: deadline,
		Timing:   NewTiming(),
	}
}

// ExecuteAt returns the command's scheduled execute time, defaulting to
// zero ("immediately") if unset.
func (c *Command) ExecuteAt() int64 {
	v, ok := c.Request.Values[KeyExecuteAt]
	if !ok {
		return 0
	}
	var t int64
	_, _ = fmt.Sscanf(v, "%d", &t)
	return t
}

// Done reports whether the command has a terminal response.
func (c *Command) Done() bool { return c.Response != nil }

// Finalize sets the command's response. Calling Finalize twice is a
// programmer error (violates the write-once invariant); callers that can't
// guarantee single-assignment must check Done() first.
func (c *Command) Finalize(status int, reason string, payload json.RawMessage) {
	c.Response = &Response{Status: status, Reason: reason, Payload: payload}
}

// Package quarantine tracks commands that crashed a worker while being
// peeked or processed, so the core never hands the same (methodLine,
// userID) pair back to a handler that is known to kill the process on it.
//
// Quarantine is node-local and permanent: once a key transitions into the
// peek-blacklist or the process-blacklist it never leaves, and the
// transition is never replicated. A follower that forwards a process call
// to the leader learns nothing from this registry either way — each node
// builds its own blacklist from what actually crashed on it.
package quarantine

import (
	"sync"

	"github.com/zeebo/blake3"
)

// key is a fixed-width digest of (methodLine, userID), used so the
// registry's maps are never keyed on unbounded, attacker-influenced string
// concatenation.
type key [32]byte

func keyFor(methodLine, userID string) key {
	h := blake3.New()
	_, _ = h.WriteString(methodLine)
	_, _ = h.Write([]byte{0}) // separator: methodLine and userID are otherwise ambiguous to concatenate
	_, _ = h.WriteString(userID)
	var k key
	copy(k[:], h.Sum(nil))
	return k
}

// Registry holds the two blacklist sets, grounded on the teacher's
// circuit-breaker pattern in internal/scheduler/scheduler.go: a keyed state
// map with its own lock, consulted before doing work and updated after a
// failure, reconciled without ever being held across the caller's own
// locks. The breaker's three-state cooldown machine is simplified here to
// two permanent one-way transitions, since spec.md defines no recovery
// path out of quarantine.
type Registry struct {
	mu      sync.RWMutex
	peek    map[key]struct{}
	process map[key]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		peek:    make(map[key]struct{}),
		process: make(map[key]struct{}),
	}
}

// PeekBlacklisted reports whether (methodLine, userID) crashed a worker
// during Peek.
func (r *Registry) PeekBlacklisted(methodLine, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peek[keyFor(methodLine, userID)]
	return ok
}

// ProcessBlacklisted reports whether (methodLine, userID) crashed a worker
// during Process.
func (r *Registry) ProcessBlacklisted(methodLine, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.process[keyFor(methodLine, userID)]
	return ok
}

// Blacklisted reports whether either blacklist covers (methodLine, userID).
// The worker pool does not use it: it checks PeekBlacklisted and, on the
// leader only, ProcessBlacklisted.
func (r *Registry) Blacklisted(methodLine, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k := keyFor(methodLine, userID)
	_, peeked := r.peek[k]
	_, processed := r.process[k]
	return peeked || processed
}

// QuarantinePeek permanently blacklists (methodLine, userID) from Peek.
// Idempotent.
func (r *Registry) QuarantinePeek(methodLine, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peek[keyFor(methodLine, userID)] = struct{}{}
}

// QuarantineProcess permanently blacklists (methodLine, userID) from
// Process. Idempotent.
func (r *Registry) QuarantineProcess(methodLine, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.process[keyFor(methodLine, userID)] = struct{}{}
}

// Stats reports the current size of each blacklist, for status reporting.
func (r *Registry) Stats() (peekCount, processCount int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peek), len(r.process)
}

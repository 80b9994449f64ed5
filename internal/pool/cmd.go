package pool

import (
	"context"

	"github.com/ChuLiYu/relayd/internal/storage"
)

// ----------------------------------------------------------------------------
// Cmd - the tagged-variant request type submitted through Execute
// ----------------------------------------------------------------------------
//
// Two-phase construction: NewGet builds a Cmd the caller can hold onto
// before committing to a call; Execute's prepare step installs the result
// channel and cancellation context right before enqueue, closing the
// window in which a Cmd could be submitted twice or read from before it is
// actually on the channel.

// kind tags the variant carried by a Cmd. Get is the only variant the
// homeserver's surface needs today; writes go straight to
// storage.Map.PutBlocking on the caller's own goroutine instead of through
// the pool, so kind stays a one-value enum. Modeling it as an enum rather
// than, say, a Go interface keeps cmd.prepare and the worker's dispatch a
// closed switch instead of an open set - exactly as deliberate a
// restriction as the Rust enum it mirrors.
type kind int

const kindGet kind = iota

// Cmd is a tagged variant of operation requests submitted to a Pool.
type Cmd struct {
	kind kind
	get  *Get
}

// Map is the narrow, opaque collaborator the pool depends on: a synchronous
// point lookup that may block for milliseconds under engine I/O pressure.
// storage.Map implements it; tests substitute their own to count calls
// without touching a real embedded engine.
type Map interface {
	GetBlocking(key []byte) (*storage.Handle, error)
	String() string
}

// Get is a single point lookup against one Map.
type Get struct {
	// Map is a shared reference to the column being queried. Multiple
	// concurrent Get commands may carry the same Map; Map handles its own
	// internal concurrency.
	Map Map
	// Key is an owned copy of the lookup key.
	Key []byte

	// res and ctx are filled in by Pool.Execute immediately before enqueue.
	// They are unexported so that a Cmd built by NewGet in another package
	// can never observe the sender half, submit the command twice, or race
	// the pool's own bookkeeping - this two-phase construction is enforced
	// here by Go's package-private fields rather than by a borrow checker.
	res chan<- result
	ctx context.Context
}

// result is what travels back over the one-shot result channel.
type result struct {
	handle *storage.Handle
	err    error
}

// NewGet builds a Get command. key is copied so the caller may reuse or
// mutate their own buffer after this call returns.
func NewGet(m Map, key []byte) Cmd {
	owned := make([]byte, len(key))
	copy(owned, key)
	return Cmd{kind: kindGet, get: &Get{Map: m, Key: owned}}
}

// prepare installs the result sender and cancellation context into the
// command. A prior value is a programmer error (calling Execute twice with
// the same Cmd value) that is not detected here, the same way the Rust
// implementation's Option::insert silently replaces and documents as
// misuse: this simply overwrites, and callers that do it anyway get undefined multiplexing of
// two waiters over the same buffered channel, which is their bug to find.
func (c Cmd) prepare(ctx context.Context, res chan<- result) {
	switch c.kind {
	case kindGet:
		c.get.ctx = ctx
		c.get.res = res
	}
}

// mapName returns the queried Map's name for tracing/metrics labels.
func (c Cmd) mapName() string {
	switch c.kind {
	case kindGet:
		return c.get.Map.String()
	default:
		return "unknown"
	}
}

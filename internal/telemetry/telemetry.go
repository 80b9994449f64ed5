// ----------------------------------------------------------------------------
// telemetry - pool.Observer implementation, per-Map state counters
// ----------------------------------------------------------------------------
//
// One Tracker per process, attached to a Pool via pool.WithObserver. Four
// maps (queued/executing/completed/cancelled) under one RWMutex; Queued and
// Executing rise and fall as commands move through the machine, Completed
// and Cancelled only ever accumulate.

// Package telemetry implements pool.Observer, tracking how many commands
// are currently in each state of the queued/executing/completed/cancelled
// state machine, keyed by Map name. It is the observability analog of
// internal/jobmanager's state indexes: one map per state acting as a
// fast-count secondary index, with a single mutex guarding all of them,
// rather than persisted job records.
package telemetry

import (
	"sync"

	"github.com/ChuLiYu/relayd/internal/pool"
)

// Counts is a snapshot of how many commands are sitting in each state for
// one Map at the moment Snapshot was called.
type Counts struct {
	Queued    int
	Executing int
	Completed int
	Cancelled int
}

// Tracker accumulates state transitions reported by the pool. It holds no
// state beyond these counters - Pool's own invariant of having no other
// mutable state is unaffected by attaching one.
type Tracker struct {
	mu        sync.RWMutex
	queued    map[string]int
	executing map[string]int
	completed map[string]int
	cancelled map[string]int
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		queued:    make(map[string]int),
		executing: make(map[string]int),
		completed: make(map[string]int),
		cancelled: make(map[string]int),
	}
}

// Transition implements pool.Observer. Completed and Cancelled are terminal
// states, so they are recorded cumulatively; Queued and Executing reflect
// commands presently in flight and are incremented/decremented as commands
// move through the machine.
//
// Cancelled always transitions out of Queued, never out of Executing: the
// pool only ever reports a cancellation before a command's worker has
// checked in (see handleGet's ctx.Err fast path), so the Queued count this
// decrements belongs to the same command. Execute reports Queued after its
// send succeeds, so a worker can report Executing or Cancelled just before
// it, and a Queued count can briefly read -1 until that report arrives.
// A command cancelled by its
// caller after a worker has already picked it up still runs to completion
// and is reported Completed, same as any other command - there is no
// transition out of Executing for it.
func (t *Tracker) Transition(mapName string, s pool.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch s {
	case pool.StateQueued:
		t.queued[mapName]++
	case pool.StateExecuting:
		t.queued[mapName]--
		t.executing[mapName]++
	case pool.StateCompleted:
		t.executing[mapName]--
		t.completed[mapName]++
	case pool.StateCancelled:
		t.queued[mapName]--
		t.cancelled[mapName]++
	}
}

// Snapshot returns the current counts for mapName.
func (t *Tracker) Snapshot(mapName string) Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Counts{
		Queued:    t.queued[mapName],
		Executing: t.executing[mapName],
		Completed: t.completed[mapName],
		Cancelled: t.cancelled[mapName],
	}
}

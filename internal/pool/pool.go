// ============================================================================
// Database Access Pool - Bounded Channel Worker Pool
// ============================================================================
//
// Package: internal/pool
// File: pool.go
// Function: Bridges cooperatively scheduled callers to the blocking,
//   synchronous storage engine in internal/storage via a fixed population
//   of dedicated worker goroutines.
//
// Design Pattern:
//   A bounded channel worker pool:
//   1. Fixed number of worker goroutines, each holding its own OS thread
//   2. Commands enqueued onto one shared, capacity-bounded channel
//   3. Each worker dequeues, runs the blocking call, and replies over a
//      one-shot result channel embedded in the command itself
//   4. No result-collection channel shared across commands - each Cmd
//      carries its own return path, so callers never race one another
//      waiting on a common channel
//
// Architecture Components:
//   ┌──────────┐
//   │  Caller  │ --Execute()--> p.ch
//   └──────────┘
//        ↑
//   resCh (embedded in Cmd)
//        ↑
//   ┌──────────┐
//   │   Pool   │
//   │ ┌──────┐ │
//   │ │Wkr  0│←── p.ch
//   │ │Wkr  1│←── p.ch   ──→ resCh (per Cmd)
//   │ │Wkr  N│←── p.ch
//   │ └──────┘ │
//   └──────────┘
//
// Lifecycle:
//   1. New(queueSize, workerNum) - clamp bounds, spawn workers
//   2. Execute(ctx, cmd) - enqueue, await that command's own result
//   3. Close() - close the channel, join every worker, re-raise any panic
//
// Concurrency Control:
//   - ch: bounded channel, the sole backpressure mechanism
//   - mu: RWMutex guarding closed, read-locked across an enqueue so a
//     concurrent Close can't race a send onto an already-closed channel
//   - wg: tracks worker goroutines for Close to join
//
// Error Handling:
//   - ErrSubmissionFailed: Execute called after Close
//   - ErrWorkerLost: the worker handling a command panicked mid-query
//   - A worker's own panic is recorded and re-raised by Close, never
//     swallowed
//
// Responsibilities:
//   1. Own the worker goroutines' lifetime from New to Close
//   2. Apply backpressure by bounding the channel rather than the caller
//      count
//   3. Report per-command state transitions to an optional Observer
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	minQueueSize = 1
	maxQueueSize = 8192
	minWorkers   = 1
	maxWorkers   = 512
	workerName   = "db-worker"
)

// Errors surfaced to a submitter through Execute.
var (
	// ErrSubmissionFailed means the channel was closed - the pool is
	// shutting down or already shut down.
	ErrSubmissionFailed = errors.New("pool: submission failed, pool is closing")
	// ErrWorkerLost means the worker handling this command panicked
	// mid-query, so no result was ever produced.
	ErrWorkerLost = errors.New("pool: worker lost")
)

// Pool is a process-lifetime object: a bounded command channel plus a fixed
// set of dedicated worker threads. Q (channel capacity) and W (worker
// count) never change after New returns. The only other mutable state is
// the closed flag guarding shutdown and the list of recorded worker
// panics - everything else workers need (the Map
// for a given command) arrives embedded in the Cmd itself.
//
// Go's goroutine scheduler, unlike the cooperative async runtime this pool
// was built for, will move a blocked goroutine off its carrier OS thread
// for ordinary blocking syscalls. It will not do that for a long-running
// call into a cgo library, which is the case this pool guards against in
// its original form. Workers here are therefore built with
// runtime.LockOSThread so each one owns a real OS thread for its lifetime,
// preserving the pool's dedicated-thread-population property even though
// bbolt itself is pure Go and would not strictly require it.
type Pool struct {
	ch chan Cmd

	mu     sync.RWMutex // guards closed; read-locked across a send to ch
	closed bool

	wg      sync.WaitGroup
	panicMu sync.Mutex
	panics  []any

	metrics  Metrics
	observer Observer
}

// Option configures optional collaborators at construction time.
type Option func(*Pool)

// WithMetrics attaches a metrics sink. Nil is a valid, no-op Metrics.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithObserver attaches a per-command state-machine observer, used by
// internal/telemetry and by tests; production callers normally leave this
// unset.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// New constructs a Pool. queueSize and workerNum are clamped to [1, 8192]
// and [1, 512] respectively; callers never need to validate their
// configuration before calling this.
//
// Unlike the Rust implementation, worker spawn in Go cannot fail short of a
// fatal runtime out-of-memory condition, which is not recoverable in either
// language - so New has no error return, and always starts exactly
// workerNum workers.
func New(queueSize, workerNum int, opts ...Option) *Pool {
	queueSize = clamp(queueSize, minQueueSize, maxQueueSize)
	workerNum = clamp(workerNum, minWorkers, maxWorkers)

	p := &Pool{
		ch:      make(chan Cmd, queueSize),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}

	for id := 0; id < workerNum; id++ {
		p.spawnWorker(id)
	}

	slog.Debug("pool started", "queue_size", queueSize, "worker_num", workerNum)
	return p
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (p *Pool) spawnWorker(id int) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.recordPanic(r)
			}
		}()
		slog.Debug(workerName+" spawned", "id", id)
		p.workerLoop(id)
		slog.Debug(workerName+" finished", "id", id)
	}()
}

func (p *Pool) recordPanic(r any) {
	p.panicMu.Lock()
	p.panics = append(p.panics, r)
	p.panicMu.Unlock()
}

// Close shuts the pool down. It closes the channel's sending side, joins
// every worker, and asserts the channel drained cleanly. Calling Close a
// second time is a misuse left to an assertion, not graceful idempotency -
// mirrored here as a panic rather than silently returning.
//
// A worker that panicked mid-query propagates that panic to this caller,
// same as Rust's JoinHandle::join surfacing a child panic.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("pool: Close called twice")
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	p.wg.Wait()

	if n := len(p.ch); n != 0 {
		panic(fmt.Sprintf("pool: channel not empty after shutdown (%d pending)", n))
	}

	p.panicMu.Lock()
	panics := p.panics
	p.panicMu.Unlock()
	if len(panics) > 0 {
		panic(panics[0])
	}
}


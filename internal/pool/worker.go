package pool

import (
	"fmt"
	"log/slog"
	"runtime"
)

// ----------------------------------------------------------------------------
// workerLoop / dispatch / handleGet - the worker side of the pool
// ----------------------------------------------------------------------------
//
// Each worker owns a dedicated OS thread (runtime.LockOSThread) for its
// entire lifetime and loops over p.ch until it is closed and drained. This
// is the only place in the package that calls into the blocking storage
// engine, and the only place that can tell whether a command was cancelled
// before or after it started running.

// workerLoop is one dedicated worker thread. It runs until the channel is
// closed and drained, then returns, ending the goroutine.
func (p *Pool) workerLoop(id int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for cmd := range p.ch {
		p.dispatch(id, cmd)
	}
}

func (p *Pool) dispatch(id int, cmd Cmd) {
	switch cmd.kind {
	case kindGet:
		p.handleGet(id, cmd.get)
	default:
		slog.Error("pool: unknown command kind", "id", id)
	}
}

// handleGet checks the cancellation fast path, invokes the blocking lookup,
// and sends the result.
//
// A buffered, capacity-1 Go channel can't refuse a send the way the Rust
// oneshot::Sender can when its Receiver has been dropped, so "a send
// failure here is acceptable and ignored" doesn't translate literally:
// there is no failure to ignore. What is preserved is the intended outcome:
// if the submitter already gave up (ctx cancelled), the query is elided
// before it runs; if it gives up mid-query, the eventually produced result
// is simply never read by anyone and is garbage collected.
func (p *Pool) handleGet(id int, g *Get) {
	defer func() {
		if r := recover(); r != nil {
			// Notify whoever is still waiting that this command's worker
			// died mid-query, then keep unwinding so Close() can still
			// observe and re-raise the panic, matching JoinHandle::join
			// propagating a child panic to the joiner.
			select {
			case g.res <- result{err: fmt.Errorf("%w: %v", ErrWorkerLost, r)}:
			default:
			}
			panic(r)
		}
	}()

	if g.ctx.Err() != nil {
		p.metrics.Cancelled(g.Map.String())
		p.observe(Cmd{kind: kindGet, get: g}, StateCancelled)
		return
	}

	p.observe(Cmd{kind: kindGet, get: g}, StateExecuting)
	handle, err := g.Map.GetBlocking(g.Key)
	g.res <- result{handle: handle, err: err}
	p.observe(Cmd{kind: kindGet, get: g}, StateCompleted)
}

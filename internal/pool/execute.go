package pool

import (
	"context"
	"errors"
	"time"

	"github.com/ChuLiYu/relayd/internal/storage"
)

// ----------------------------------------------------------------------------
// Execute - the pool's one entry point for submitters
// ----------------------------------------------------------------------------
//
// Two suspension points, both governed by the caller's ctx:
//   1. the send onto p.ch (backpressure - waits for a worker to drain it)
//   2. the receive from resCh (waits for a worker to produce a result)
//
// Execute submits cmd and suspends until it completes:
//
//  1. create a fresh one-shot result channel;
//  2. install it into cmd (prepare);
//  3. send cmd on the bounded channel - this is the backpressure suspension
//     point: if the queue is full, Execute waits here for a worker to drain
//     it;
//  4. await the result - the second suspension point;
//  5. return it.
//
// ctx governs cancellation at both suspension points. If the caller gives
// up before the command ever reaches the channel, it never existed as far
// as the rest of the pool is concerned, so nothing about it is reported.
// Once the command is on the channel, only the worker that eventually
// dequeues it knows whether that happened before or after a cancellation,
// so Execute leaves all further state reporting to dispatch and handleGet
// rather than guessing at it here.
func (p *Pool) Execute(ctx context.Context, cmd Cmd) (*storage.Handle, error) {
	ctx = ensureContext(ctx)
	start := time.Now()
	resCh := make(chan result, 1)
	cmd.prepare(ctx, resCh)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.metrics.SubmissionFailed()
		return nil, ErrSubmissionFailed
	}
	select {
	case p.ch <- cmd:
		p.mu.RUnlock()
		p.observe(cmd, StateQueued)
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case res, ok := <-resCh:
		if !ok {
			p.metrics.WorkerLost()
			return nil, ErrWorkerLost
		}
		if res.err != nil {
			if errors.Is(res.err, ErrWorkerLost) {
				p.metrics.WorkerLost()
			}
			return nil, res.err
		}
		p.metrics.Completed(cmd.mapName(), time.Since(start))
		return res.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) observe(cmd Cmd, s State) {
	if p.observer == nil {
		return
	}
	p.observer.Transition(cmd.mapName(), s)
}

// QueueLen reports the number of commands currently buffered in the
// channel, for metrics gauges and tests. It is a snapshot, not a guarantee.
func (p *Pool) QueueLen() int {
	return len(p.ch)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

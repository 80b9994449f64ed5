package pool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/relayd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMap(t *testing.T) *storage.Map {
	t.Helper()
	dir := t.TempDir()
	m, err := storage.Open(filepath.Join(dir, "test.db"), "default")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// TestClamping confirms out-of-range queue sizes and worker counts are
// accepted rather than rejected, and that the queue size is clamped to its
// supported bounds.
func TestClamping(t *testing.T) {
	p := New(0, 0)
	defer p.Close()
	assert.Equal(t, minQueueSize, cap(p.ch))

	p2 := New(1_000_000_000, 1_000_000_000)
	defer p2.Close()
	assert.Equal(t, maxQueueSize, cap(p2.ch))
}

// TestSingleGetReturnsValue covers the basic round trip: submit one Get,
// get back the stored value.
func TestSingleGetReturnsValue(t *testing.T) {
	m := openTestMap(t)
	require.NoError(t, m.PutBlocking([]byte("k"), []byte{0x01, 0x02}))

	p := New(4, 2)
	defer p.Close()

	h, err := p.Execute(context.Background(), NewGet(m, []byte("k")))
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, []byte{0x01, 0x02}, h.Bytes())
}

// TestGetOfMissingKeyReturnsNotFound confirms a storage-layer error
// propagates back through Execute unwrapped.
func TestGetOfMissingKeyReturnsNotFound(t *testing.T) {
	m := openTestMap(t)

	p := New(4, 2)
	defer p.Close()

	_, err := p.Execute(context.Background(), NewGet(m, []byte("missing")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestBackpressureStallsSecondSubmitter: with Q=1, W=1, a first call that
// blocks on a latch in the only worker causes a second concurrent call to
// remain suspended (its command occupies the single queue slot) until the
// latch releases.
func TestBackpressureStallsSecondSubmitter(t *testing.T) {
	latch := make(chan struct{})
	mock := &mockMap{
		get: func(key []byte) (*storage.Handle, error) {
			<-latch
			return nil, storage.ErrNotFound
		},
	}

	p := New(1, 1)
	defer p.Close()

	firstStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		close(firstStarted)
		_, _ = p.Execute(context.Background(), newMockGet(mock))
	}()

	<-firstStarted
	time.Sleep(20 * time.Millisecond) // let the first command reach the worker

	secondDone := make(chan struct{})
	go func() {
		defer wg.Done()
		_, _ = p.Execute(context.Background(), newMockGet(mock))
		close(secondDone)
	}()

	select {
	case <-secondDone:
		t.Fatal("second Execute should still be suspended on backpressure")
	case <-time.After(50 * time.Millisecond):
	}

	close(latch)
	wg.Wait()
}

// TestCancellationBeforeDispatchSkipsQuery confirms that if the
// submitter's context is cancelled before a worker dequeues the command,
// Map.GetBlocking is never called.
func TestCancellationBeforeDispatchSkipsQuery(t *testing.T) {
	var calls int32
	mock := &mockMap{
		get: func(key []byte) (*storage.Handle, error) {
			atomic.AddInt32(&calls, 1)
			return nil, storage.ErrNotFound
		},
	}

	// No workers draining the queue yet: fill the one slot, cancel, then
	// start the worker and confirm the call never happened.
	p := &Pool{ch: make(chan Cmd, 1), metrics: noopMetrics{}}

	ctx, cancel := context.WithCancel(context.Background())
	resCh := make(chan result, 1)
	cmd := newMockGet(mock)
	cmd.prepare(ctx, resCh)
	p.ch <- cmd
	cancel()

	p.spawnWorker(0)
	close(p.ch)
	p.wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

// TestConcurrentCommandsCompleteThenCloseReturns confirms ten concurrent
// commands against W=2, Q=16 all complete without error within a bound,
// and that Close then returns within a bound.
func TestConcurrentCommandsCompleteThenCloseReturns(t *testing.T) {
	m := openTestMap(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.PutBlocking([]byte(fmt.Sprintf("k%d", i)), []byte{byte(i)}))
	}

	p := New(16, 2)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := p.Execute(context.Background(), NewGet(m, []byte(fmt.Sprintf("k%d", i))))
			if h != nil {
				h.Release()
			}
			results <- err
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("commands did not complete within bound")
	}
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}

	closeDone := make(chan struct{})
	go func() { p.Close(); close(closeDone) }()
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return within bound")
	}
}

// TestHandleSurvivesWorkerReuse confirms a handle stays valid after its
// producing worker returns to the pool and takes another command.
func TestHandleSurvivesWorkerReuse(t *testing.T) {
	m := openTestMap(t)
	require.NoError(t, m.PutBlocking([]byte("k1"), []byte("v1")))
	require.NoError(t, m.PutBlocking([]byte("k2"), []byte("v2")))

	p := New(4, 1) // single worker forces reuse
	defer p.Close()

	h1, err := p.Execute(context.Background(), NewGet(m, []byte("k1")))
	require.NoError(t, err)
	defer h1.Release()

	_, err = p.Execute(context.Background(), NewGet(m, []byte("k2")))
	require.NoError(t, err)

	assert.Equal(t, []byte("v1"), h1.Bytes())
}

// TestResultRouting confirms there is no cross-talk between concurrent
// submitters: each gets back exactly the value it asked for.
func TestResultRouting(t *testing.T) {
	m := openTestMap(t)
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, m.PutBlocking([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}

	p := New(8, 4)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := p.Execute(context.Background(), NewGet(m, []byte(fmt.Sprintf("k%d", i))))
			require.NoError(t, err)
			defer h.Release()
			assert.Equal(t, fmt.Sprintf("v%d", i), string(h.Bytes()))
		}(i)
	}
	wg.Wait()
}

// TestCloseTwicePanics confirms a second Close call is treated as a
// programmer error, not idempotent.
func TestCloseTwicePanics(t *testing.T) {
	p := New(1, 1)
	p.Close()
	assert.Panics(t, func() { p.Close() })
}

// TestExecuteAfterCloseFails confirms a submission after Close returns
// ErrSubmissionFailed rather than blocking or panicking.
func TestExecuteAfterCloseFails(t *testing.T) {
	m := openTestMap(t)
	p := New(1, 1)
	p.Close()

	_, err := p.Execute(context.Background(), NewGet(m, []byte("k")))
	assert.ErrorIs(t, err, ErrSubmissionFailed)
}

// TestWorkerPanicSurfacesAsWorkerLostAndPropagatesOnClose exercises the
// WorkerLost path end to end: a worker that panics mid-query reports
// ErrWorkerLost to its submitter and re-raises on Close.
func TestWorkerPanicSurfacesAsWorkerLostAndPropagatesOnClose(t *testing.T) {
	mock := &mockMap{
		get: func(key []byte) (*storage.Handle, error) {
			panic("boom")
		},
	}

	p := New(1, 1)
	_, err := p.Execute(context.Background(), newMockGet(mock))
	assert.True(t, errors.Is(err, ErrWorkerLost))

	assert.Panics(t, func() { p.Close() })
}

// mockMap implements pool.Map without touching a real embedded engine, so
// tests can count calls directly.
type mockMap struct {
	get func(key []byte) (*storage.Handle, error)
}

func (m *mockMap) GetBlocking(key []byte) (*storage.Handle, error) { return m.get(key) }
func (m *mockMap) String() string                                 { return "mock" }

func newMockGet(m *mockMap) Cmd {
	return Cmd{kind: kindGet, get: &Get{Map: m, Key: []byte("k")}}
}

package storage

import (
	"runtime"
	"sync"

	"go.etcd.io/bbolt"
)

// Handle is a zero-copy borrowed view onto a buffer pinned inside the
// embedded storage engine. It holds the read transaction that produced it
// open, so the underlying byte slice stays valid until the Handle is
// released, without ever being copied.
//
// Go has no borrow checker, so there is nothing equivalent to Rust's
// lifetime-widen-then-narrow transmute at the channel boundary: Handle is
// just a value, and it is sound to move it across goroutines by ordinary
// assignment. What still has to be enforced by hand is the *ownership*
// half of the contract: the handle must not outlive the engine. Release
// does that by rolling back the pinning transaction,
// and a finalizer is registered as a backstop for callers that forget to
// call it explicitly. Map.Close additionally blocks until every
// outstanding transaction (i.e. every live Handle) has been released,
// which is bbolt's native behavior for DB.Close.
type Handle struct {
	tx   *bbolt.Tx
	data []byte
	once sync.Once
}

func newHandle(tx *bbolt.Tx, data []byte) *Handle {
	h := &Handle{tx: tx, data: data}
	runtime.SetFinalizer(h, (*Handle).Release)
	return h
}

// Bytes returns the borrowed view. It is only valid until Release is called.
func (h *Handle) Bytes() []byte {
	return h.data
}

// Release ends the pinning transaction. Safe to call more than once; only
// the first call has an effect. Must happen before the owning Map is closed.
func (h *Handle) Release() {
	h.once.Do(func() {
		runtime.SetFinalizer(h, nil)
		_ = h.tx.Rollback()
	})
}

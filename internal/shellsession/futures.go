package shellsession

import (
	"sync"
	"time"
)

// exitFuture is a single-resolution rendezvous between the stream reader
// that spots a marker line and the queue processor waiting on it. The
// first Resolve or Cancel wins; later calls are no-ops.
type exitFuture struct {
	once sync.Once
	ch   chan int
	done chan struct{}
}

func newExitFuture() *exitFuture {
	return &exitFuture{
		ch:   make(chan int, 1),
		done: make(chan struct{}),
	}
}

// Resolve delivers the exit code. Returns true if this call won.
func (f *exitFuture) Resolve(code int) bool {
	won := false
	f.once.Do(func() {
		f.ch <- code
		won = true
	})
	return won
}

// Cancel unblocks any waiter without delivering a code.
func (f *exitFuture) Cancel() {
	f.once.Do(func() {
		close(f.done)
	})
}

// Await blocks for the exit code. ok is false on cancellation or timeout.
func (f *exitFuture) Await(timeout time.Duration) (code int, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case code = <-f.ch:
		return code, true
	case <-f.done:
		return 0, false
	case <-timer.C:
		return 0, false
	}
}

// Package invoke implements the main-thread-to-data-thread call
// primitive, invoke(func, seq, data, size, block): a way for the
// control (main) goroutine to run a closure on
// the data-loop goroutine and, optionally, block until it has run.
// Grounded on remote.c's do_remove_source/unhandle_socket
// (pw_loop_invoke(..., true, data) is exactly a blocking invoke), using
// a sync.WaitGroup that the queued closure releases for the blocking
// case.
package invoke

import "sync"

// Queue is a single-consumer channel of closures. The
// data-loop goroutine selects on C() as one of several readiness
// sources in its own loop; any number of other goroutines call
// Invoke. Exposing the raw channel (rather than a Run method) lets the
// data loop interleave draining it with servicing the RT wake fd in a
// single select, preserving the rule that only one goroutine ever
// touches the data loop's state.
type Queue struct {
	calls chan func()
}

// New creates a Queue with room for depth queued-but-unrun closures.
func New(depth int) *Queue {
	if depth <= 0 {
		depth = 16
	}
	return &Queue{calls: make(chan func(), depth)}
}

// C returns the channel the data-loop goroutine should select on.
func (q *Queue) C() <-chan func() { return q.calls }

// Invoke enqueues fn to run on whatever goroutine is draining C(). If
// block is true, Invoke does not return until fn has actually run
// there.
func (q *Queue) Invoke(fn func(), block bool) {
	if !block {
		q.calls <- fn
		return
	}
	var wg sync.WaitGroup
	wg.Add(1)
	q.calls <- func() {
		fn()
		wg.Done()
	}
	wg.Wait()
}

// Drain runs every closure currently queued without blocking for more
// to arrive, for use inside a loop iteration that also services other
// readiness sources (the RT wake fd, a shutdown signal) but isn't
// structured as a single select, e.g. right after the RT wake fd read
// returns.
func (q *Queue) Drain() {
	for {
		select {
		case fn, ok := <-q.calls:
			if !ok {
				return
			}
			fn()
		default:
			return
		}
	}
}

// Close closes the underlying channel. Callers must not call Invoke
// after Close.
func (q *Queue) Close() {
	close(q.calls)
}

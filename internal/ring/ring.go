// Package ring implements the lock-free MPSC-style command ring that
// carries RT messages between this client and the remote server over
// shared memory. The head/tail bookkeeping mirrors the atomic
// producer/consumer index discipline a submission/completion queue
// pair uses, adapted from a kernel-managed ring to one this process
// owns end to end.
package ring

import (
	"errors"
	"sync/atomic"

	"github.com/konsulko/pipewire/internal/wire"
)

// ErrFull is returned when Push finds no free slot.
var ErrFull = errors.New("ring: full")

// ErrEmpty is returned when Pop finds nothing to read.
var ErrEmpty = errors.New("ring: empty")

// Ring is a single-producer/single-consumer circular buffer of
// wire.Message values sized to a power of two. One side is the server
// (writing PROCESS_INPUT/PROCESS_OUTPUT/PORT_REUSE_BUFFER), the other
// is this client (writing NEED_INPUT/HAVE_OUTPUT/PORT_REUSE_BUFFER) — each direction of
// a shared-memory transport gets its own Ring, so although the protocol
// is conceptually MPSC across the whole transport, any one Ring
// instance only ever has one writer and one reader.
type Ring struct {
	mask    uint32
	entries []wire.Message
	head    atomic.Uint32 // next slot the consumer will read
	tail    atomic.Uint32 // next slot the producer will write
}

// New creates a Ring with room for capacity messages. capacity is
// rounded up to the next power of two.
func New(capacity int) *Ring {
	n := nextPow2(capacity)
	return &Ring{
		mask:    uint32(n - 1),
		entries: make([]wire.Message, n),
	}
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Push appends a message, returning ErrFull if the ring has no room.
// Safe for exactly one concurrent caller (the producer side).
func (r *Ring) Push(m wire.Message) error {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail-head >= uint32(len(r.entries)) {
		return ErrFull
	}
	r.entries[tail&r.mask] = m
	r.tail.Store(tail + 1)
	return nil
}

// Pop removes and returns the oldest message, returning ErrEmpty if
// the ring has nothing queued. Safe for exactly one concurrent caller
// (the consumer side).
func (r *Ring) Pop() (wire.Message, error) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head == tail {
		return wire.Message{}, ErrEmpty
	}
	m := r.entries[head&r.mask]
	r.head.Store(head + 1)
	return m, nil
}

// Len reports the number of queued-but-unread messages.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Drain pops every currently queued message and invokes fn on each,
// in FIFO order, stopping at the first Pop error (i.e. when the ring
// runs dry): repeatedly calling next_message until empty.
func (r *Ring) Drain(fn func(wire.Message)) {
	for {
		m, err := r.Pop()
		if err != nil {
			return
		}
		fn(m)
	}
}

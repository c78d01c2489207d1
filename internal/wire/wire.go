// Package wire defines the byte-exact layouts shared with the remote
// server over mapped memory: the transport header, the per-port
// SPA_IO_BUFFERS triplets, and the RT message framing carried on the
// command ring. None of this is a serialization format in the classic
// sense — these are structs written directly into shared memory and
// read back with atomic loads, the same way a kernel-owned descriptor
// ring is written by one side and read back by the other.
package wire

import (
	"sync/atomic"
	"unsafe"
)

// IOStatus is the single-writer status field of an IOBuffers slot.
type IOStatus int32

const (
	// StatusOK means the slot's buffer id is ready for the consumer.
	StatusOK IOStatus = iota
	// StatusNeedBuffer means the consumer must supply a buffer before
	// the slot can be marked OK again.
	StatusNeedBuffer
	// StatusHave means the producer has data staged in the slot.
	StatusHave
)

// IOBuffers is the authoritative per-port hand-off slot living in the
// transport ring area. Exactly one slot exists per port per direction.
// Fields are accessed with atomic ops because the peer process writes
// them concurrently with this process reading them.
type IOBuffers struct {
	status   int32
	bufferID uint32
	sequence uint32
}

// Status atomically loads the slot's status.
func (b *IOBuffers) Status() IOStatus {
	return IOStatus(atomic.LoadInt32(&b.status))
}

// SetStatus atomically stores the slot's status.
func (b *IOBuffers) SetStatus(s IOStatus) {
	atomic.StoreInt32(&b.status, int32(s))
}

// BufferID atomically loads the slot's buffer id.
func (b *IOBuffers) BufferID() uint32 {
	return atomic.LoadUint32(&b.bufferID)
}

// SetBufferID atomically stores the slot's buffer id.
func (b *IOBuffers) SetBufferID(id uint32) {
	atomic.StoreUint32(&b.bufferID, id)
}

// Sequence atomically loads the slot's sequence counter.
func (b *IOBuffers) Sequence() uint32 {
	return atomic.LoadUint32(&b.sequence)
}

// SetSequence atomically stores the slot's sequence counter.
func (b *IOBuffers) SetSequence(seq uint32) {
	atomic.StoreUint32(&b.sequence, seq)
}

// Reset returns the slot to its post-attach initial state.
func (b *IOBuffers) Reset() {
	b.SetStatus(StatusOK)
	b.SetBufferID(InvalidID)
	b.SetSequence(0)
}

// InvalidID marks an absent id (memory id, buffer id, port id).
const InvalidID = ^uint32(0)

// TransportHeader is the fixed-size prefix of the mapped transport
// area, describing how many port slots follow it.
type TransportHeader struct {
	MaxInputPorts  uint32
	MaxOutputPorts uint32
}

// MessageType tags an RT message traveling over the command ring.
type MessageType uint32

const (
	MessageProcessInput MessageType = iota
	MessageProcessOutput
	MessagePortReuseBuffer
	MessageNeedInput
	MessageHaveOutput
)

// String renders a MessageType for logging.
func (m MessageType) String() string {
	switch m {
	case MessageProcessInput:
		return "PROCESS_INPUT"
	case MessageProcessOutput:
		return "PROCESS_OUTPUT"
	case MessagePortReuseBuffer:
		return "PORT_REUSE_BUFFER"
	case MessageNeedInput:
		return "NEED_INPUT"
	case MessageHaveOutput:
		return "HAVE_OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// PortReuseBufferBody is the payload of a PORT_REUSE_BUFFER message.
type PortReuseBufferBody struct {
	PortID   uint32
	BufferID uint32
}

// Message is a decoded RT message: a type tag plus an optional body.
// NEED_INPUT/HAVE_OUTPUT/PROCESS_INPUT/PROCESS_OUTPUT carry no body;
// PORT_REUSE_BUFFER carries a PortReuseBufferBody.
type Message struct {
	Type MessageType
	Body PortReuseBufferBody
}

// Size returns the on-ring size in bytes of a message header plus its
// largest possible body.
func Size() int {
	return int(unsafe.Sizeof(MessageType(0))) + int(unsafe.Sizeof(PortReuseBufferBody{}))
}

// Meta is a copy of an spa_meta-equivalent descriptor: an opaque,
// typed region inside a buffer's mapping. Data is a slice into the
// buffer's mmap, not a copy, matching the original's in-place pointer
// relocation.
type Meta struct {
	Type uint32
	Size uint32
	Data []byte
}

// DataKind identifies how a Data element's storage is resolved.
type DataKind uint32

const (
	DataKindInvalid DataKind = iota
	DataKindMemFd
	DataKindDmaBuf
	DataKindMemPtr
	DataKindOther
)

// ChunkSize is the fixed size in bytes reserved per data plane for its
// spa_chunk-equivalent header, carved out of the buffer mapping right
// after the meta planes (remote.c: "d->chunk = SPA_MEMBER(bid->ptr,
// offset + sizeof(struct spa_chunk) * j, ...)").
const ChunkSize = 16

// Data is a copy of an spa_data-equivalent descriptor: one data plane
// of a buffer, resolved to either an absolute slice (MemPtr) or a
// pinned fd (MemFd/DmaBuf). Data and Chunk are slices into the
// buffer's mmap when resolved in-place.
type Data struct {
	Kind   DataKind
	MaxLen uint32
	Data   []byte
	FD     int
	Chunk  []byte
}

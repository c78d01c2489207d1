// Package node defines the local node contract this client consumes.
// A concrete implementation — an ALSA capture source, a
// test double, anything that speaks this interface — is a peer this
// package never constructs; it only calls into one that is handed to
// Export.
package node

import "github.com/konsulko/pipewire/internal/wire"

// Direction is a port's data-flow direction.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// Pod is an opaque, immutable serialized parameter/format/command
// blob with a known type id. This client never interprets its
// contents; it only stores, forwards, and copies it.
type Pod struct {
	TypeID uint32
	Bytes  []byte
}

// PortInfo mirrors the fields of a port's info block this client needs
// to build port updates. Flags follow the same bit
// layout as the local node's native port info; CanAllocBuffers is
// masked off by the caller, never by the node itself (remote ports
// cannot allocate for the server).
type PortInfo struct {
	Direction       Direction
	ID              uint32
	CanAllocBuffers bool
	Flags           uint32
}

// Buffer is a caller-resolved buffer descriptor handed to
// PortUseBuffers: the node receives buffers with their pointers
// already relocated into the mapped region.
type Buffer struct {
	ID    uint32
	Metas []wire.Meta
	Datas []wire.Data
}

// Command is an opaque node/port command (Pause, Start, ClockUpdate,
// or a port-level command), identified by a numeric id so the
// dispatcher does not need to know every command the node supports.
type Command struct {
	ID   uint32
	Body Pod
}

// Callbacks are the node's callbacks into this client.
type Callbacks interface {
	Done(seq uint32, result int32)
	Event(ev Pod)
	NeedInput()
	ReuseBuffer(portID, bufferID uint32)
}

// Node is the local node contract this client drives.
type Node interface {
	EnumParams(id uint32, index *uint32, filter *Pod) (*Pod, error)
	SetParam(id uint32, flags uint32, pod *Pod) error
	SendCommand(cmd Command) error
	SetCallbacks(cb Callbacks)

	NumPorts(dir Direction) int
	PortIDs(dir Direction) []uint32
	PortInfo(dir Direction, portID uint32) (PortInfo, error)
	PortEnumParams(dir Direction, portID uint32, id uint32, index *uint32, filter *Pod) (*Pod, error)
	PortSetParam(dir Direction, portID uint32, id uint32, flags uint32, pod *Pod) error
	PortUseBuffers(dir Direction, portID uint32, buffers []Buffer) error
	PortSetIO(dir Direction, portID uint32, ioID uint32, ptr []byte) error
	PortReuseBuffer(portID, bufferID uint32)
	PortSendCommand(dir Direction, portID uint32, cmd Command, fromRemote bool) error

	ProcessInput() error
	ProcessOutput() error
}

// BufferAllocator is the optional capability a node may additionally
// implement; port_alloc_buffers is optional and this
// client never calls it (remote ports cannot allocate for the
// server), but the interface is specified so a future server-side
// allocation path has somewhere to live without changing Node.
type BufferAllocator interface {
	PortAllocBuffers(dir Direction, portID uint32, params []Pod) ([]Buffer, error)
}

// EnumerateParamIDs walks a node's full parameter space without
// depending on the concrete iteration protocol EnumParams uses
// internally.
func EnumerateParamIDs(n Node) []uint32 {
	var ids []uint32
	var idx uint32
	for {
		pod, err := n.EnumParams(ParamIDList, &idx, nil)
		if err != nil || pod == nil {
			break
		}
		id, ok := decodeParamID(pod)
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

// ParamIDList is the well-known parameter id whose enumeration yields
// the node's full list of supported parameter ids (mirrors SPA's
// idList convention).
const ParamIDList uint32 = 0

func decodeParamID(pod *Pod) (uint32, bool) {
	if pod == nil || len(pod.Bytes) < 4 {
		return 0, false
	}
	id := uint32(pod.Bytes[0]) | uint32(pod.Bytes[1])<<8 | uint32(pod.Bytes[2])<<16 | uint32(pod.Bytes[3])<<24
	return id, true
}

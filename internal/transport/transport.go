// Package transport implements the transport attachment component:
// the per-node pair of port arrays and IO slots
// backing an attached shared-memory transport, wired to the local
// node's actual ports and to the two graphshim.Node endpoints that
// drive RT processing.
//
// Grounded on remote.c's client_node_transport (the tear-down-then-
// rebuild algorithm and the existing-local-port binding pass) and
// clean_transport (the teardown ordering this package's Close mirrors).
// Attach leaves the transport unpaused: an RT pump running on it
// dispatches inbound messages straight away, without waiting for a
// Start command. Only SetPaused(true) narrows it to the {ERR,HUP}-only
// interest mask.
package transport

import (
	"github.com/konsulko/pipewire/internal/buffer"
	"github.com/konsulko/pipewire/internal/graphshim"
	"github.com/konsulko/pipewire/internal/logging"
	"github.com/konsulko/pipewire/internal/memregistry"
	"github.com/konsulko/pipewire/internal/node"
	"github.com/konsulko/pipewire/internal/ring"
	"github.com/konsulko/pipewire/internal/wire"
	"golang.org/x/sys/unix"
)

// Port is one transport-side port slot: its IO hand-off slot, its
// buffer table, and whether a real local port is bound to it yet.
type Port struct {
	ID      uint32
	IO      *wire.IOBuffers
	Buffers *buffer.Table
	Bound   bool
	InOrder bool
}

// Transport is the attached shared-memory transport for one node.
type Transport struct {
	log *logging.Logger
	mem *memregistry.Table

	MaxInputPorts  uint32
	MaxOutputPorts uint32

	InPorts  []*Port
	OutPorts []*Port

	InOut *ring.Ring // server -> client (PROCESS_INPUT/PROCESS_OUTPUT/PORT_REUSE_BUFFER)
	OutIn *ring.Ring // client -> server (NEED_INPUT/HAVE_OUTPUT/PORT_REUSE_BUFFER)

	ReadFD  int
	WriteFD int

	OutNode *graphshim.Node // stands in for the node's output-producing edge
	InNode  *graphshim.Node // stands in for the node's input-consuming edge

	attached bool
	paused   bool
}

// New creates an empty, unattached Transport.
func New(mem *memregistry.Table) *Transport {
	return &Transport{mem: mem, log: logging.Default(), ReadFD: -1, WriteFD: -1}
}

// Attach tears down any existing transport state and rebuilds the port
// arrays and IO slots for a freshly received CLIENT_NODE_TRANSPORT
// control event, then binds any of the local node's existing ports
// into the new arrays, matching remote.c's client_node_transport.
func (t *Transport) Attach(maxInput, maxOutput uint32, readFD, writeFD int, n node.Node, ringSize int) {
	t.Close()

	t.MaxInputPorts = maxInput
	t.MaxOutputPorts = maxOutput
	t.InPorts = make([]*Port, maxInput)
	t.OutPorts = make([]*Port, maxOutput)

	for i := range t.InPorts {
		io := &wire.IOBuffers{}
		io.Reset()
		t.InPorts[i] = &Port{ID: uint32(i), IO: io, Buffers: buffer.NewTable(t.mem), InOrder: true}
	}
	for i := range t.OutPorts {
		io := &wire.IOBuffers{}
		io.Reset()
		t.OutPorts[i] = &Port{ID: uint32(i), IO: io, Buffers: buffer.NewTable(t.mem), InOrder: true}
	}

	for _, id := range n.PortIDs(node.DirectionInput) {
		if int(id) < len(t.InPorts) {
			t.InPorts[id].Bound = true
		}
	}
	for _, id := range n.PortIDs(node.DirectionOutput) {
		if int(id) < len(t.OutPorts) {
			t.OutPorts[id].Bound = true
		}
	}

	t.InOut = ring.New(ringSize)
	t.OutIn = ring.New(ringSize)
	t.ReadFD = readFD
	t.WriteFD = writeFD
	t.OutNode = graphshim.New(graphshim.RoleOutput, n)
	t.InNode = graphshim.New(graphshim.RoleInput, n)
	t.attached = true
	t.paused = false

	t.log.Info("transport attached", "maxInputPorts", maxInput, "maxOutputPorts", maxOutput, "readFD", readFD, "writeFD", writeFD)
}

// FindPort returns the port slot for (direction, id), or nil if id is
// out of range, matching find_port's bounds check.
func (t *Transport) FindPort(dir node.Direction, id uint32) *Port {
	var ports []*Port
	if dir == node.DirectionInput {
		ports = t.InPorts
	} else {
		ports = t.OutPorts
	}
	if id >= uint32(len(ports)) {
		return nil
	}
	return ports[id]
}

// Attached reports whether a transport is currently installed.
func (t *Transport) Attached() bool { return t.attached }

// SetPaused narrows or widens the RT source's interest mask the way
// the original's spa_loop_update_source does in the Pause/Start
// command handlers: paused restricts the pump to ERR|HUP only, so no
// RT message is dispatched from a wake that arrives after Pause and
// before the next Start.
func (t *Transport) SetPaused(paused bool) {
	t.paused = paused
}

// Paused reports the current RT source interest mask narrowing.
func (t *Transport) Paused() bool { return t.paused }

// Close tears down the current transport state in the order
// clean_transport uses: clear every port's buffer table, release the
// port arrays, and close the write fd. The caller is responsible for
// stopping any RT pump reading ReadFD before calling Close.
func (t *Transport) Close() {
	if !t.attached {
		return
	}
	for _, p := range t.InPorts {
		p.Buffers.Clear()
	}
	for _, p := range t.OutPorts {
		p.Buffers.Clear()
	}
	t.InPorts = nil
	t.OutPorts = nil
	t.InOut = nil
	t.OutIn = nil
	if t.WriteFD != -1 {
		_ = unix.Close(t.WriteFD)
	}
	t.ReadFD = -1
	t.WriteFD = -1
	t.attached = false
}

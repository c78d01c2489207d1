// Package control implements the control-channel event dispatcher:
// one Dispatch case per CLIENT_NODE_* control event, each
// either mutating this client's local state (memory registry, buffer
// tables, transport attachment) or forwarding into the local node,
// and replying with a control.Reply the caller hands back to the
// server.
//
// Grounded on remote.c's client_node_events callback table, with one
// switch case per control operation, structured logging at every step, and
// a done-reply-shaped return from the mutating calls.
package control

import (
	"errors"
	"syscall"

	"github.com/konsulko/pipewire/internal/buffer"
	"github.com/konsulko/pipewire/internal/logging"
	"github.com/konsulko/pipewire/internal/memregistry"
	"github.com/konsulko/pipewire/internal/node"
	"github.com/konsulko/pipewire/internal/portupdate"
	"github.com/konsulko/pipewire/internal/transport"
	"github.com/konsulko/pipewire/internal/wire"
	"golang.org/x/sys/unix"
)

// Observer receives control-dispatch telemetry, structurally
// compatible with pwnode.Observer so a caller can pass its top-level
// Observer straight through without an adapter.
type Observer interface {
	ObserveMessage(kind string)
	ObserveBufferRebuild(direction string, portID uint32, count int)
}

// nopObserver implements Observer with no-ops.
type nopObserver struct{}

func (nopObserver) ObserveMessage(string)                   {}
func (nopObserver) ObserveBufferRebuild(string, uint32, int) {}

// Event is the tagged-union interface every decoded control message
// implements. Decoding the wire bytes into one of these is out of
// scope here: callers hand Dispatch an already decoded Event.
type Event interface{ isEvent() }

type AddMem struct {
	MemID uint32
	FD    int
	Flags uint32
}

type TransportAttach struct {
	NodeID         uint32
	ReadFD         int
	WriteFD        int
	MaxInputPorts  uint32
	MaxOutputPorts uint32
}

type SetParam struct {
	Seq   uint32
	ID    uint32
	Flags uint32
	Param *node.Pod
}

type NodeEvent struct {
	Payload node.Pod
}

type Command struct {
	Seq uint32
	Cmd node.Command
}

type AddPort struct {
	Seq       uint32
	Direction node.Direction
	PortID    uint32
}

type RemovePort struct {
	Seq       uint32
	Direction node.Direction
	PortID    uint32
}

type PortSetParam struct {
	Seq       uint32
	Direction node.Direction
	PortID    uint32
	ID        uint32
	Flags     uint32
	Param     *node.Pod
}

type PortUseBuffers struct {
	Seq       uint32
	Direction node.Direction
	PortID    uint32
	Buffers   []buffer.Source
}

type PortCommand struct {
	Direction node.Direction
	PortID    uint32
	Cmd       node.Command
}

type PortSetIO struct {
	Direction node.Direction
	PortID    uint32
	IOID      uint32
	MemID     uint32
	Offset    uint32
	Size      uint32
}

func (AddMem) isEvent()          {}
func (TransportAttach) isEvent() {}
func (SetParam) isEvent()        {}
func (NodeEvent) isEvent()       {}
func (Command) isEvent()         {}
func (AddPort) isEvent()         {}
func (RemovePort) isEvent()      {}
func (PortSetParam) isEvent()    {}
func (PortUseBuffers) isEvent()  {}
func (PortCommand) isEvent()     {}
func (PortSetIO) isEvent()       {}

// Reply is the tagged-union interface for what Dispatch hands back.
type Reply interface{ isReply() }

// Done is the terminal reply to a sequenced event, carrying the
// result code the way pw_client_node_proxy_done(seq, res) does: 0 on
// success, a negative errno-style code on failure.
type Done struct {
	Seq    uint32
	Result int32
}

// PortUpdateReply carries a portupdate.Update to send to the server.
type PortUpdateReply struct {
	Update portupdate.Update
}

// SetActiveReply asks the caller to tell the server this node is
// (in)active, mirroring pw_client_node_proxy_set_active.
type SetActiveReply struct {
	Active bool
}

func (Done) isReply()            {}
func (PortUpdateReply) isReply() {}
func (SetActiveReply) isReply()  {}

// Known command ids the dispatcher special-cases, the rest being
// forwarded opaquely to the node. Values are placeholders for the
// real SPA command type ids, which are out of scope here.
const (
	CommandPause uint32 = iota + 1
	CommandStart
	CommandClockUpdate
)

// Dispatcher is the control-channel event handler for one session.
type Dispatcher struct {
	node     node.Node
	mem      *memregistry.Table
	tr       *transport.Transport
	ringSize int
	active   bool
	log      *logging.Logger
	obs      Observer
}

// New creates a Dispatcher bound to the given local node, memory
// registry, and transport.
func New(n node.Node, mem *memregistry.Table, tr *transport.Transport, ringSize int) *Dispatcher {
	return &Dispatcher{node: n, mem: mem, tr: tr, ringSize: ringSize, log: logging.Default(), obs: nopObserver{}}
}

// SetObserver installs obs to receive dispatch telemetry for every
// subsequent Dispatch call. A nil obs restores the no-op default.
func (d *Dispatcher) SetObserver(obs Observer) {
	if obs == nil {
		obs = nopObserver{}
	}
	d.obs = obs
}

// eventKind names ev for metrics labels, independent of its Go type
// name so a field rename doesn't silently relabel a time series.
func eventKind(ev Event) string {
	switch ev.(type) {
	case AddMem:
		return "add_mem"
	case TransportAttach:
		return "transport_attach"
	case SetParam:
		return "set_param"
	case NodeEvent:
		return "node_event"
	case Command:
		return "command"
	case AddPort:
		return "add_port"
	case RemovePort:
		return "remove_port"
	case PortSetParam:
		return "port_set_param"
	case PortUseBuffers:
		return "port_use_buffers"
	case PortCommand:
		return "port_command"
	case PortSetIO:
		return "port_set_io"
	default:
		return "unknown"
	}
}

// directionLabel names dir for metrics labels.
func directionLabel(dir node.Direction) string {
	if dir == node.DirectionInput {
		return "input"
	}
	return "output"
}

// Dispatch handles one control event and returns zero or more replies
// to send back to the server, in order.
func (d *Dispatcher) Dispatch(ev Event) []Reply {
	d.obs.ObserveMessage(eventKind(ev))

	switch e := ev.(type) {
	case AddMem:
		d.mem.Add(e.MemID, e.FD, e.Flags)
		return nil

	case TransportAttach:
		d.tr.Attach(e.MaxInputPorts, e.MaxOutputPorts, e.ReadFD, e.WriteFD, d.node, d.ringSize)
		if d.active {
			return []Reply{SetActiveReply{Active: true}}
		}
		return nil

	case SetParam:
		d.log.Warn("set param not implemented")
		return nil

	case NodeEvent:
		d.log.Warn("unhandled node event", "typeID", e.Payload.TypeID)
		return nil

	case Command:
		return d.dispatchCommand(e)

	case AddPort:
		d.log.Warn("add port not supported")
		return nil

	case RemovePort:
		d.log.Warn("remove port not supported")
		return nil

	case PortSetParam:
		return d.dispatchPortSetParam(e)

	case PortUseBuffers:
		return d.dispatchPortUseBuffers(e)

	case PortCommand:
		if err := d.node.PortSendCommand(e.Direction, e.PortID, e.Cmd, true); err != nil {
			d.log.Warn("port command failed", "err", err)
		}
		return nil

	case PortSetIO:
		d.dispatchPortSetIO(e)
		return nil

	default:
		d.log.Warn("unknown control event")
		return nil
	}
}

func (d *Dispatcher) dispatchCommand(e Command) []Reply {
	var res int32
	switch e.Cmd.ID {
	case CommandPause:
		if err := d.node.SendCommand(e.Cmd); err != nil {
			d.log.Warn("pause failed", "err", err)
			res = resultCode(err)
		}
		// Narrow the RT source interest mask to {ERR,HUP}: no RT message
		// is produced again until the next Start.
		if d.tr.Attached() {
			d.tr.SetPaused(true)
		}

	case CommandStart:
		if err := d.node.SendCommand(e.Cmd); err != nil {
			d.log.Warn("start failed", "err", err)
			res = resultCode(err)
		}
		for _, p := range d.tr.InPorts {
			p.IO.SetStatus(wire.StatusNeedBuffer)
		}
		if d.tr.Attached() {
			// Widen the RT source interest mask back to {IN,ERR,HUP}
			// before emitting, so the NEED_INPUT below is not dropped by
			// the pump's own pause gate.
			d.tr.SetPaused(false)
			d.emitNeedInput()
		}

	case CommandClockUpdate:
		// Accepted silently: the original leaves this handler's body
		// compiled out and infers no clock-adjustment intent from it.

	default:
		d.log.Warn("unhandled node command", "id", e.Cmd.ID)
		return []Reply{Done{Seq: e.Seq, Result: -int32(unix.ENOSYS)}}
	}
	return []Reply{Done{Seq: e.Seq, Result: res}}
}

// emitNeedInput pushes a NEED_INPUT message onto the client-to-server
// ring and wakes the peer, mirroring node_need_input's direct,
// same-call emission in the original's Start branch. Unlike
// rtloop.Pump's node-callback-triggered emissions, this one runs on
// whatever goroutine drives Dispatch, not the data loop, because it is
// not reacting to node state the data loop owns.
func (d *Dispatcher) emitNeedInput() {
	if err := d.tr.OutIn.Push(wire.Message{Type: wire.MessageNeedInput}); err != nil {
		d.log.Warn("outward ring full, dropping need_input", "err", err)
		return
	}
	var cmd [8]byte
	cmd[0] = 1
	if _, err := unix.Write(d.tr.WriteFD, cmd[:]); err != nil {
		d.log.Warn("failed to signal peer", "err", err)
	}
}

// resultCode maps a failure into the negative errno-style code
// pw_client_node_proxy_done expects, distinguishing a known cause
// (an unregistered memory id) from an opaque I/O failure.
func resultCode(err error) int32 {
	if err == nil {
		return 0
	}
	if errors.Is(err, buffer.ErrUnknownMemID) {
		return -int32(unix.ENOENT)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}

func (d *Dispatcher) dispatchPortSetParam(e PortSetParam) []Reply {
	port := d.tr.FindPort(e.Direction, e.PortID)
	if port == nil || !port.Bound {
		return []Reply{Done{Seq: e.Seq, Result: -int32(unix.ENOENT)}}
	}

	if err := d.node.PortSetParam(e.Direction, e.PortID, e.ID, e.Flags, e.Param); err != nil {
		d.log.Warn("port set param failed", "err", err)
		return []Reply{Done{Seq: e.Seq, Result: resultCode(err)}}
	}

	update, err := portupdate.Build(d.node, e.Direction, e.PortID, portupdate.ChangeParams|portupdate.ChangeInfo)
	if err != nil {
		d.log.Warn("port update build failed", "err", err)
		return []Reply{Done{Seq: e.Seq, Result: resultCode(err)}}
	}

	return []Reply{PortUpdateReply{Update: update}, Done{Seq: e.Seq, Result: 0}}
}

func (d *Dispatcher) dispatchPortUseBuffers(e PortUseBuffers) []Reply {
	port := d.tr.FindPort(e.Direction, e.PortID)
	if port == nil {
		return []Reply{Done{Seq: e.Seq, Result: -int32(unix.ENOENT)}}
	}

	if err := port.Buffers.UseBuffers(e.Buffers); err != nil {
		d.log.Error("use buffers failed", "err", err)
		return []Reply{Done{Seq: e.Seq, Result: resultCode(err)}}
	}

	var nodeBuffers []node.Buffer
	for _, entry := range port.Buffers.Entries() {
		nodeBuffers = append(nodeBuffers, node.Buffer{ID: entry.ID, Metas: entry.Metas, Datas: entry.Datas})
	}

	if err := d.node.PortUseBuffers(e.Direction, e.PortID, nodeBuffers); err != nil {
		d.log.Error("node rejected buffers", "err", err)
		port.Buffers.Clear()
		return []Reply{Done{Seq: e.Seq, Result: resultCode(err)}}
	}

	d.obs.ObserveBufferRebuild(directionLabel(e.Direction), e.PortID, len(nodeBuffers))
	return []Reply{Done{Seq: e.Seq, Result: 0}}
}

func (d *Dispatcher) dispatchPortSetIO(e PortSetIO) {
	port := d.tr.FindPort(e.Direction, e.PortID)
	if port == nil {
		return
	}

	if e.MemID == ^uint32(0) {
		if err := d.node.PortSetIO(e.Direction, e.PortID, e.IOID, nil); err != nil {
			d.log.Warn("port set io failed", "err", err)
		}
		return
	}

	region := d.mem.Find(e.MemID)
	if region == nil {
		d.log.Warn("unknown memory id", "id", e.MemID)
		return
	}

	ptr, err := d.mem.Map(region, e.Offset, e.Size)
	if err != nil {
		d.log.Warn("mmap for port io failed", "err", err)
		return
	}

	if err := d.node.PortSetIO(e.Direction, e.PortID, e.IOID, ptr); err != nil {
		d.log.Warn("port set io failed", "err", err)
	}
}

// SetActive records whether this node is active, so a later
// TransportAttach knows to immediately request activation on the new
// transport, mirroring node_active_changed's propagation into
// pw_client_node_proxy_set_active.
func (d *Dispatcher) SetActive(active bool) {
	d.active = active
}

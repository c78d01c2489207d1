// Package rtloop implements the real-time message pump for one
// attached transport: a reader goroutine blocks on the transport's
// read-wake-fd, and the loop goroutine, once woken, drains every queued
// RT message and dispatches each one into the local node through the
// transport's graphshim endpoints, emitting the matching outward
// message back to the server.
//
// Grounded on remote.c's on_rtsocket_condition/handle_rtnode_message
// (read-then-drain-then-dispatch loop, ERR|HUP teardown), run on one
// goroutine per transport. LockOSThread is not required here since
// there is no hardware affinity to pin, but the same "block for
// readiness, then drain a batch" shape applies.
package rtloop

import (
	"errors"
	"fmt"

	"github.com/konsulko/pipewire/internal/invoke"
	"github.com/konsulko/pipewire/internal/logging"
	"github.com/konsulko/pipewire/internal/node"
	"github.com/konsulko/pipewire/internal/transport"
	"github.com/konsulko/pipewire/internal/wire"
	"golang.org/x/sys/unix"
)

// Observer receives RT-loop telemetry through a narrow interface kept
// separate from error handling, so instrumentation never sits on the
// hot path's error-handling logic.
type Observer interface {
	MessageDispatched(t wire.MessageType)
	LoopError(err error)
}

// NopObserver implements Observer with no-ops.
type NopObserver struct{}

func (NopObserver) MessageDispatched(wire.MessageType) {}
func (NopObserver) LoopError(error)                    {}

// Pump is the RT message loop for one attached transport.
type Pump struct {
	tr     *transport.Transport
	node   node.Node
	invoke *invoke.Queue
	obs    Observer
	log    *logging.Logger
}

// New creates a Pump bound to tr and the local node it drives. The
// returned Pump is also a node.Callbacks implementation; callers
// should pass it to node.SetCallbacks before Run starts.
func New(tr *transport.Transport, n node.Node, inv *invoke.Queue, obs Observer) *Pump {
	if obs == nil {
		obs = NopObserver{}
	}
	p := &Pump{tr: tr, node: n, invoke: inv, obs: obs, log: logging.Default()}
	n.SetCallbacks(p)
	return p
}

// Run blocks servicing the transport's wake fd and the invoke queue
// until stop closes or the wake fd reports an unrecoverable error,
// mirroring on_rtsocket_condition's ERR|HUP handling. It returns the
// terminal error, or nil on a clean stop. Run returns as soon as stop
// closes; its reader goroutine stays parked in its pending read until
// the next wake or until the peer closes the write end, and then exits
// without dispatching anything.
func (p *Pump) Run(stop <-chan struct{}) error {
	wakeCh := make(chan error, 1)
	readerDone := make(chan struct{})
	go p.readLoop(wakeCh, stop, readerDone)

	for {
		select {
		case <-stop:
			return nil
		case fn := <-p.invoke.C():
			fn()
		case err, ok := <-wakeCh:
			if !ok {
				return nil
			}
			if err != nil {
				p.obs.LoopError(err)
				return err
			}
			p.dispatchAll()
		}
	}
}

func (p *Pump) readLoop(wakeCh chan<- error, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(wakeCh)

	buf := make([]byte, 8)
	for {
		n, err := unix.Read(p.tr.ReadFD, buf)
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			wakeCh <- fmt.Errorf("rt wake fd read: %w", err)
			return
		}
		if n == 0 {
			wakeCh <- errors.New("rt wake fd closed (HUP)")
			return
		}
		if n != 8 {
			p.log.Warn("short read on rt wake fd", "n", n)
		}
		wakeCh <- nil
	}
}

// dispatchAll drains the inward ring unconditionally (a wake must
// always be acknowledged so the ring does not back up) but only feeds
// messages to dispatch while the transport's RT interest mask includes
// IN, matching {ERR,HUP} on Pause vs {IN,ERR,HUP} on Start: a wake that
// lands after Pause and before the next Start is drained and dropped.
func (p *Pump) dispatchAll() {
	paused := p.tr.Paused()
	p.tr.InOut.Drain(func(m wire.Message) {
		if paused {
			p.log.Debug("dropping rt message while paused", "type", m.Type)
			return
		}
		p.dispatch(m)
	})
}

func (p *Pump) dispatch(m wire.Message) {
	p.obs.MessageDispatched(m.Type)

	switch m.Type {
	case wire.MessageProcessInput:
		// The server delivered input; drive the node to consume it and
		// immediately signal that it is ready for more.
		if err := p.tr.InNode.NeedInput(); err != nil {
			p.log.Warn("process input failed", "err", err)
			return
		}
		p.emit(wire.Message{Type: wire.MessageNeedInput})

	case wire.MessageProcessOutput:
		// The server wants output; drive the node to produce it and
		// signal that output is ready.
		if err := p.tr.OutNode.HaveOutput(); err != nil {
			p.log.Warn("process output failed", "err", err)
			return
		}
		p.emit(wire.Message{Type: wire.MessageHaveOutput})

	case wire.MessagePortReuseBuffer:
		p.tr.OutNode.ReuseBuffer(m.Body.PortID, m.Body.BufferID)

	default:
		p.log.Warn("unexpected rt message", "type", m.Type)
	}
}

// emit pushes an outward message onto the client-to-server ring and
// wakes the peer, matching node_need_input/node_have_output's
// add-message-then-write(fd,&cmd,8) pair.
func (p *Pump) emit(m wire.Message) {
	if p.tr.Paused() {
		p.log.Debug("suppressing outward rt message while paused", "type", m.Type)
		return
	}
	if err := p.tr.OutIn.Push(m); err != nil {
		p.log.Warn("outward ring full, dropping message", "type", m.Type, "err", err)
		return
	}
	var cmd [8]byte
	cmd[0] = 1
	if _, err := unix.Write(p.tr.WriteFD, cmd[:]); err != nil {
		p.log.Warn("failed to signal peer", "err", err)
	}
}

// Done implements node.Callbacks by logging the node's seq/result at
// debug level; it sends no reply of its own.
func (p *Pump) Done(seq uint32, result int32) {
	p.log.Debug("node done", "seq", seq, "result", result)
}

// Event implements node.Callbacks.
func (p *Pump) Event(ev node.Pod) {
	p.log.Debug("node event", "typeID", ev.TypeID)
}

// NeedInput implements node.Callbacks: the local node is telling this
// client it needs input right now, outside of processing an inbound
// PROCESS_INPUT message (e.g. right after Start). The emission must
// happen on the data-loop goroutine, so it is queued through invoke.
func (p *Pump) NeedInput() {
	p.invoke.Invoke(func() { p.emit(wire.Message{Type: wire.MessageNeedInput}) }, false)
}

// ReuseBuffer implements node.Callbacks.
func (p *Pump) ReuseBuffer(portID, bufferID uint32) {
	p.invoke.Invoke(func() {
		p.emit(wire.Message{Type: wire.MessagePortReuseBuffer, Body: wire.PortReuseBufferBody{PortID: portID, BufferID: bufferID}})
	}, false)
}

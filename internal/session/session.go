// Package session implements the connection state machine and
// data-loop lifecycle for one exported node: the
// Unconnected/Connecting/Connected/Error states a single export moves
// through, and the supervised goroutine running the real-time message
// pump once a transport is attached.
//
// Grounded on remote.c's pw_remote_update_state (state transitions
// only fire a notification when old != state) and pw_remote_connect/
// pw_remote_disconnect, with a create/run/stop lifecycle wrapped
// around a set of supervised goroutines.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/konsulko/pipewire/internal/control"
	"github.com/konsulko/pipewire/internal/invoke"
	"github.com/konsulko/pipewire/internal/logging"
	"github.com/konsulko/pipewire/internal/memregistry"
	"github.com/konsulko/pipewire/internal/node"
	"github.com/konsulko/pipewire/internal/rtloop"
	"github.com/konsulko/pipewire/internal/transport"
	"github.com/konsulko/pipewire/internal/wire"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Observer receives session-level telemetry: state transitions plus
// whatever this session forwards from its control dispatcher, memory
// registry, and RT pump. The method set is structurally compatible
// with pwnode.Observer, so a caller's top-level Observer can be passed
// to SetObserver without an adapter.
type Observer interface {
	ObserveStateChange(from, to string)
	ObserveMessage(kind string)
	ObserveBufferRebuild(direction string, portID uint32, count int)
	ObserveMmap(op string, sizeBytes uint64)
}

// nopObserver implements Observer with no-ops.
type nopObserver struct{}

func (nopObserver) ObserveStateChange(string, string)        {}
func (nopObserver) ObserveMessage(string)                    {}
func (nopObserver) ObserveBufferRebuild(string, uint32, int) {}
func (nopObserver) ObserveMmap(string, uint64)               {}

// rtObserverAdapter satisfies rtloop.Observer by forwarding message
// counts into a session Observer; rtloop predates this package's
// Observer type and already has its own narrow interface, so this is
// the seam between the two rather than a change to rtloop itself.
type rtObserverAdapter struct {
	obs Observer
	log *logging.Logger
}

func (a rtObserverAdapter) MessageDispatched(t wire.MessageType) {
	a.obs.ObserveMessage(t.String())
}

func (a rtObserverAdapter) LoopError(err error) {
	a.log.Error("rt loop error", "err", err)
}

// State is one of the connection states a Session moves through.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String renders a State for logging.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the per-export connection and data-loop lifecycle.
type Session struct {
	// ID correlates every log line this session emits, since a process
	// may export more than one node.
	ID uuid.UUID

	node node.Node
	mem  *memregistry.Table
	tr   *transport.Transport
	ctl  *control.Dispatcher
	inv  *invoke.Queue
	pump *rtloop.Pump
	log  *logging.Logger

	mu    sync.Mutex
	state State
	obs   Observer

	// OnStateChange, if set, is invoked after every transition for
	// which old != new, mirroring pw_remote_update_state's guard.
	OnStateChange func(old, new State)

	group   *errgroup.Group
	stop    chan struct{}
	stopped bool
}

// New creates a Session for n, with its own memory registry and
// transport, and a control.Dispatcher wired to both. ringSize is the
// RT command ring's capacity once a transport is attached.
func New(n node.Node, ringSize int) *Session {
	mem := memregistry.New(0)
	tr := transport.New(mem)
	inv := invoke.New(16)
	return &Session{
		ID:    uuid.New(),
		node:  n,
		mem:   mem,
		tr:    tr,
		ctl:   control.New(n, mem, tr, ringSize),
		inv:   inv,
		log:   logging.Default(),
		state: StateUnconnected,
		stop:  make(chan struct{}),
		obs:   nopObserver{},
	}
}

// SetObserver installs obs to receive this session's telemetry, and
// forwards it into the control dispatcher and memory registry this
// session already owns. A nil obs restores the no-op default.
func (s *Session) SetObserver(obs Observer) {
	if obs == nil {
		obs = nopObserver{}
	}
	s.obs = obs
	s.ctl.SetObserver(obs)
	s.mem.SetObserver(obs)
}

// State reports the session's current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatcher returns the session's control-event dispatcher, for a
// caller's own control-channel decode loop to drive.
func (s *Session) Dispatcher() *control.Dispatcher {
	return s.ctl
}

// Transport returns the session's transport, for inspection in tests
// and by a caller wiring up the RT wake fds before Start.
func (s *Session) Transport() *transport.Transport {
	return s.tr
}

// setState performs a transition and fires OnStateChange only when the
// state actually changes, matching pw_remote_update_state's
// "if (old != state)" guard: transitions to the same state are silent.
func (s *Session) setState(new State) (old, now State) {
	s.mu.Lock()
	old = s.state
	s.state = new
	s.mu.Unlock()

	if old != new {
		s.log.Debug("session state changed", "id", s.ID, "from", old, "to", new)
		s.obs.ObserveStateChange(old.String(), new.String())
		if s.OnStateChange != nil {
			s.OnStateChange(old, new)
		}
	}
	return old, new
}

// Connect moves the session from Unconnected to Connecting, mirroring
// pw_remote_connect's first state update before any I/O happens.
func (s *Session) Connect() (old, new State) {
	return s.setState(StateConnecting)
}

// Attach installs a freshly received transport and moves the session
// to Connected, mirroring the original's "connection completes once
// CLIENT_NODE_TRANSPORT arrives" sequencing.
func (s *Session) Attach(maxInput, maxOutput uint32, readFD, writeFD, ringSize int) (old, new State) {
	s.tr.Attach(maxInput, maxOutput, readFD, writeFD, s.node, ringSize)
	return s.setState(StateConnected)
}

// Fail moves the session to Error, mirroring pw_remote_update_state's
// error-state usage whenever the data loop reports a fatal fault.
func (s *Session) Fail(err error) (old, new State) {
	s.log.Error("session entering error state", "id", s.ID, "err", err)
	return s.setState(StateError)
}

// Start launches the real-time message pump on its own goroutine,
// supervised by an errgroup so a fatal RT error surfaces through Wait
// instead of being silently dropped.
func (s *Session) Start(ctx context.Context) error {
	if state := s.State(); state != StateConnected {
		return fmt.Errorf("session %s: cannot start in state %s", s.ID, state)
	}

	s.pump = rtloop.New(s.tr, s.node, s.inv, rtObserverAdapter{obs: s.obs, log: s.log})
	group, _ := errgroup.WithContext(ctx)
	s.group = group
	s.group.Go(func() error {
		if err := s.pump.Run(s.stop); err != nil {
			s.Fail(err)
			return err
		}
		return nil
	})
	return nil
}

// Wait blocks until the data-loop goroutine returns, yielding its
// error (nil on a clean Stop).
func (s *Session) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Stop signals the data loop to exit and waits for it, then tears down
// the transport and releases every registered memory region. Stop is
// idempotent: a second call is a no-op, matching clean_transport's
// safety under repeated teardown requests.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true

	close(s.stop)

	// The pump's loop returns as soon as stop closes. Closing the
	// read-wake fd releases this side's descriptor; it does not wake the
	// pump's reader goroutine if it is already blocked in a read, which
	// stays parked until the next wake or until the peer closes the
	// write end.
	if s.pump != nil && s.tr.ReadFD != -1 {
		unix.Close(s.tr.ReadFD)
	}

	var merr *multierror.Error
	if err := s.Wait(); err != nil {
		merr = multierror.Append(merr, err)
	}

	s.tr.Close()
	s.mem.ClearAll()
	s.setState(StateUnconnected)

	return merr.ErrorOrNil()
}

package pwnode

import (
	"context"

	"github.com/konsulko/pipewire/internal/control"
	"github.com/konsulko/pipewire/internal/logging"
	"github.com/konsulko/pipewire/internal/node"
	"github.com/konsulko/pipewire/internal/session"
)

// maxDeviceNameLen bounds ExportParams.Device, mirroring the fixed
// SPA_NAME_MAX-style string field the original config properties use.
const maxDeviceNameLen = 64

// defaultRingSize is the RT command ring's capacity when Options does
// not request a different one.
const defaultRingSize = 16

// ExportParams configures one call to Export: construction-time
// configuration properties, carried as plain fields rather than a
// file/env config layer.
type ExportParams struct {
	// Device names the local node for the server's benefit. Longer than
	// maxDeviceNameLen is truncated with a logged warning rather than
	// rejected outright, since a cosmetic name overrun is not a reason
	// to fail an export.
	Device string

	// MinLatency is the minimum quantum, in samples, this node accepts.
	// Must be >= 1.
	MinLatency int

	// Freq and Volume are carried for the audiotestsrc-style example
	// path; this package never interprets them itself.
	Freq   float64
	Volume float64

	// Live marks the node as a live source (no seeking, no duration).
	Live bool
}

// validate checks ExportParams, truncating Device in place if it's too
// long rather than failing the export over a cosmetic overrun.
func (p *ExportParams) validate(log *logging.Logger) error {
	if len(p.Device) > maxDeviceNameLen {
		log.Warn("device name too long, truncating", "device", p.Device, "max", maxDeviceNameLen)
		p.Device = p.Device[:maxDeviceNameLen]
	}
	if p.MinLatency < 1 {
		return New("EXPORT", ErrInvalidArg, "MinLatency must be >= 1")
	}
	return nil
}

// Options configures a call to Export beyond ExportParams.
type Options struct {
	// Context, if set, overrides the ctx argument to Export.
	Context context.Context

	// Logger receives the log lines Export itself writes (parameter
	// validation and the connecting transition). Defaults to
	// logging.Default() when nil. The session's internal components log
	// through logging.Default(), not through this Logger.
	Logger *logging.Logger

	// Observer receives metrics telemetry for this export. Defaults to
	// NoOpObserver when nil.
	Observer Observer

	// RingSize overrides the RT command ring's capacity. Defaults to
	// defaultRingSize when zero.
	RingSize int
}

// Session is the handle Export returns: the running connection for one
// exported node. It wraps internal/session.Session, translating its
// State enum into the public Code-free surface this package exposes.
type Session struct {
	params   ExportParams
	inner    *session.Session
	log      *logging.Logger
	ringSize int
	ctx      context.Context
}

// State mirrors the underlying session's connection state for callers
// that want to observe it without importing internal/session.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func fromInternalState(s session.State) State {
	switch s {
	case session.StateConnecting:
		return StateConnecting
	case session.StateConnected:
		return StateConnected
	case session.StateError:
		return StateError
	default:
		return StateUnconnected
	}
}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unconnected"
	}
}

// State reports the session's current connection state.
func (s *Session) State() State {
	return fromInternalState(s.inner.State())
}

// Params returns the (possibly truncated) ExportParams this session
// was created with.
func (s *Session) Params() ExportParams {
	return s.params
}

// Attach installs a received transport (CLIENT_NODE_TRANSPORT) and
// moves the session to Connected. Most callers instead drive the
// session through Dispatcher's TransportAttach event; Attach is the
// direct path for a caller not routing decoded control events through
// a Dispatcher.
func (s *Session) Attach(maxInput, maxOutput uint32, readFD, writeFD int) {
	s.inner.Attach(maxInput, maxOutput, readFD, writeFD, s.ringSize)
}

// Dispatcher exposes the session's control-event dispatcher so a
// caller's own control-channel decode loop can drive it.
func (s *Session) Dispatcher() *control.Dispatcher {
	return s.inner.Dispatcher()
}

// Start launches the real-time message pump once a transport is
// attached, returning an error if the session is not yet Connected. A
// nil ctx falls back to the context Export was given (via Options.Context
// or Export's own ctx argument).
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = s.ctx
	}
	if err := s.inner.Start(ctx); err != nil {
		return Wrap("EXPORT_START", err)
	}
	return nil
}

// Wait blocks until the data-loop goroutine returns.
func (s *Session) Wait() error {
	if err := s.inner.Wait(); err != nil {
		return Wrap("EXPORT_WAIT", err)
	}
	return nil
}

// Stop tears the session down: signals the data loop to exit, releases
// every mapped memory region, and returns to Unconnected. Idempotent.
func (s *Session) Stop() error {
	if err := s.inner.Stop(); err != nil {
		return Wrap("EXPORT_STOP", err)
	}
	return nil
}

// Export connects n as a remote node client session: it validates
// params, wires an Observer through the session's components, and
// moves the session to Connecting so a caller can
// feed it a Transport event once the server attaches one.
//
// Example:
//
//	sess, err := pwnode.Export(context.Background(), myNode, pwnode.ExportParams{
//	    Device:     "capture.mono",
//	    MinLatency: 256,
//	}, nil)
func Export(ctx context.Context, n node.Node, params ExportParams, options *Options) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	log := options.Logger
	if log == nil {
		log = logging.Default()
	}

	if err := params.validate(log); err != nil {
		return nil, err
	}

	ringSize := options.RingSize
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}

	inner := session.New(n, ringSize)

	var observer Observer = NoOpObserver{}
	if options.Observer != nil {
		observer = options.Observer
	}
	inner.SetObserver(observer)

	sess := &Session{params: params, inner: inner, log: log, ringSize: ringSize, ctx: ctx}

	old, new := inner.Connect()
	log.Info("export connecting",
		"device", params.Device,
		"minLatency", params.MinLatency,
		"live", params.Live,
		"from", fromInternalState(old),
		"to", fromInternalState(new),
	)

	return sess, nil
}

package rtloop

import (
	"testing"
	"time"

	"github.com/konsulko/pipewire/internal/invoke"
	"github.com/konsulko/pipewire/internal/memregistry"
	"github.com/konsulko/pipewire/internal/testingsupport"
	"github.com/konsulko/pipewire/internal/transport"
	"github.com/konsulko/pipewire/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type harness struct {
	tr         *transport.Transport
	mock       *testingsupport.MockNode
	serverSide [2]int // [0]=write-to-wake-client, [1]=read-client-wakes
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	var toClient, fromClient [2]int
	require.NoError(t, unix.Pipe(toClient[:]))
	require.NoError(t, unix.Pipe(fromClient[:]))
	t.Cleanup(func() {
		unix.Close(toClient[0])
		unix.Close(toClient[1])
		unix.Close(fromClient[0])
		unix.Close(fromClient[1])
	})

	mem := memregistry.New(0)
	tr := transport.New(mem)
	mock := testingsupport.NewMockNode(1, 1)
	tr.Attach(1, 1, toClient[0], fromClient[1], mock, 8)

	return &harness{
		tr:         tr,
		mock:       mock,
		serverSide: [2]int{toClient[1], fromClient[0]},
	}
}

func (h *harness) wakeClient(t *testing.T) {
	t.Helper()
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(h.serverSide[0], buf[:])
	require.NoError(t, err)
}

func (h *harness) readClientWake(t *testing.T) {
	t.Helper()
	buf := make([]byte, 8)
	_, err := unix.Read(h.serverSide[1], buf)
	require.NoError(t, err)
}

func TestDispatchProcessOutputEmitsHaveOutput(t *testing.T) {
	h := newHarness(t)
	inv := invoke.New(4)
	p := New(h.tr, h.mock, inv, nil)

	require.NoError(t, h.tr.InOut.Push(wire.Message{Type: wire.MessageProcessOutput}))
	h.wakeClient(t)

	stop := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(stop) }()

	h.readClientWake(t)
	close(stop)
	require.NoError(t, <-errCh)

	assert.Equal(t, 1, h.mock.ProcessInputCalls)
	m, err := h.tr.OutIn.Pop()
	require.NoError(t, err)
	assert.Equal(t, wire.MessageHaveOutput, m.Type)
}

func TestDispatchPortReuseBufferForwards(t *testing.T) {
	h := newHarness(t)
	inv := invoke.New(4)
	p := New(h.tr, h.mock, inv, nil)

	require.NoError(t, h.tr.InOut.Push(wire.Message{
		Type: wire.MessagePortReuseBuffer,
		Body: wire.PortReuseBufferBody{PortID: 1, BufferID: 2},
	}))
	h.wakeClient(t)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { p.Run(stop); close(done) }()

	deadline := time.After(time.Second)
	for len(h.mock.ReuseBufferCalls) == 0 {
		select {
		case <-deadline:
			t.Fatal("reuse buffer never forwarded")
		default:
		}
	}
	close(stop)
	<-done

	assert.Equal(t, []testingsupport.ReuseBufferCall{{PortID: 1, BufferID: 2}}, h.mock.ReuseBufferCalls)
}

func TestDispatchSuppressedWhilePaused(t *testing.T) {
	h := newHarness(t)
	inv := invoke.New(4)
	p := New(h.tr, h.mock, inv, nil)
	h.tr.SetPaused(true)

	require.NoError(t, h.tr.InOut.Push(wire.Message{Type: wire.MessageProcessOutput}))
	h.wakeClient(t)

	stop := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(stop) }()

	// Give the pump a chance to drain the wake before tearing down; there
	// is no outward message to wait on since a paused pump must emit
	// none, so a short, bounded wait is the only way to observe silence.
	time.Sleep(10 * time.Millisecond)
	close(stop)
	require.NoError(t, <-errCh)

	assert.Equal(t, 0, h.mock.ProcessInputCalls)
	_, err := h.tr.OutIn.Pop()
	assert.Error(t, err)
}

func TestNeedInputCallbackEmitsOnDataLoop(t *testing.T) {
	h := newHarness(t)
	inv := invoke.New(4)
	p := New(h.tr, h.mock, inv, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { p.Run(stop); close(done) }()

	h.mock.FireNeedInput()
	h.readClientWake(t)

	close(stop)
	h.wakeClient(t) // unblock the reader goroutine's pending Read
	<-done

	m, err := h.tr.OutIn.Pop()
	require.NoError(t, err)
	assert.Equal(t, wire.MessageNeedInput, m.Type)
}

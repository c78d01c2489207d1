// Package testingsupport provides shared test doubles used across the
// module's package tests: a MockNode implementing the local node
// contract, and a fake wake-fd pair standing in for the transport's
// eventfd-style signaling. MockNode tracks call counts and arguments
// rather than doing any real I/O.
package testingsupport

import (
	"sync"

	"github.com/konsulko/pipewire/internal/node"
	"golang.org/x/sys/unix"
)

// MockNode is a node.Node test double recording every call it
// receives so tests can assert on call counts and arguments.
type MockNode struct {
	mu sync.Mutex

	ProcessInputCalls  int
	ProcessOutputCalls int
	ReuseBufferCalls   []ReuseBufferCall

	ProcessInputErr  error
	ProcessOutputErr error

	callbacks node.Callbacks
	numInput  int
	numOutput int
}

// ReuseBufferCall records one PortReuseBuffer invocation.
type ReuseBufferCall struct {
	PortID, BufferID uint32
}

// NewMockNode creates a MockNode advertising numInput input ports and
// numOutput output ports.
func NewMockNode(numInput, numOutput int) *MockNode {
	return &MockNode{numInput: numInput, numOutput: numOutput}
}

func (m *MockNode) EnumParams(id uint32, index *uint32, filter *node.Pod) (*node.Pod, error) {
	return nil, nil
}

func (m *MockNode) SetParam(id uint32, flags uint32, pod *node.Pod) error { return nil }

func (m *MockNode) SendCommand(cmd node.Command) error { return nil }

func (m *MockNode) SetCallbacks(cb node.Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = cb
}

func (m *MockNode) NumPorts(dir node.Direction) int {
	if dir == node.DirectionInput {
		return m.numInput
	}
	return m.numOutput
}

func (m *MockNode) PortIDs(dir node.Direction) []uint32 {
	n := m.NumPorts(dir)
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids
}

func (m *MockNode) PortInfo(dir node.Direction, portID uint32) (node.PortInfo, error) {
	return node.PortInfo{Direction: dir, ID: portID}, nil
}

func (m *MockNode) PortEnumParams(dir node.Direction, portID, id uint32, index *uint32, filter *node.Pod) (*node.Pod, error) {
	return nil, nil
}

func (m *MockNode) PortSetParam(dir node.Direction, portID, id, flags uint32, pod *node.Pod) error {
	return nil
}

func (m *MockNode) PortUseBuffers(dir node.Direction, portID uint32, buffers []node.Buffer) error {
	return nil
}

func (m *MockNode) PortSetIO(dir node.Direction, portID, ioID uint32, ptr []byte) error {
	return nil
}

func (m *MockNode) PortReuseBuffer(portID, bufferID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReuseBufferCalls = append(m.ReuseBufferCalls, ReuseBufferCall{portID, bufferID})
}

func (m *MockNode) PortSendCommand(dir node.Direction, portID uint32, cmd node.Command, fromRemote bool) error {
	return nil
}

func (m *MockNode) ProcessInput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessInputCalls++
	return m.ProcessInputErr
}

func (m *MockNode) ProcessOutput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessOutputCalls++
	return m.ProcessOutputErr
}

// FireNeedInput invokes the registered callback's NeedInput, as a real
// node would when it runs dry, for tests driving the RT loop from the
// node side.
func (m *MockNode) FireNeedInput() {
	m.mu.Lock()
	cb := m.callbacks
	m.mu.Unlock()
	if cb != nil {
		cb.NeedInput()
	}
}

// WakePair is a pipe standing in for the eventfd-style wake fd pair
// the real transport uses: writing an 8-byte counter on WriteFD makes
// ReadFD become readable, exactly like unix.Eventfd would, without
// requiring CAP_SYS_ADMIN-free eventfd availability in a test sandbox.
type WakePair struct {
	ReadFD  int
	WriteFD int
}

// NewWakePair creates a connected pipe pair.
func NewWakePair() (*WakePair, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	return &WakePair{ReadFD: fds[0], WriteFD: fds[1]}, nil
}

// Signal writes one 8-byte wake counter, mirroring the real transport
// write(fd, &cmd, 8) call.
func (w *WakePair) Signal() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(w.WriteFD, buf[:])
	return err
}

// Close closes both ends of the pair.
func (w *WakePair) Close() {
	_ = unix.Close(w.ReadFD)
	_ = unix.Close(w.WriteFD)
}

// Package graphshim implements the two synthetic graph endpoints
// remote.c installs in place of a real mix node's two graph edges:
// one standing in for the node's output-producing side, one for its
// input-consuming side. Neither shim touches the transport directly;
// they only forward into the local node's own ProcessInput/
// ProcessOutput, the same division of labor impl_process_input/
// impl_process_output have from node_have_output/node_need_input in
// remote.c.
package graphshim

import "github.com/konsulko/pipewire/internal/node"

// Role names which graph edge a Node shim stands in for.
type Role int

const (
	// RoleOutput mirrors remote.c's out_node_impl: its ProcessInput
	// is called when the graph wants this node to deliver output.
	RoleOutput Role = iota
	// RoleInput mirrors remote.c's in_node_impl: its ProcessOutput is
	// called when the graph wants this node to consume input.
	RoleInput
)

// Node is one shim graph endpoint bound to the real local node.
type Node struct {
	role Role
	impl node.Node
}

// New creates a shim Node for the given role, bound to impl.
func New(role Role, impl node.Node) *Node {
	return &Node{role: role, impl: impl}
}

// Role reports which graph edge this shim stands in for.
func (s *Node) Role() Role { return s.role }

// HaveOutput drives the local node to produce output, the shim
// equivalent of impl_process_input: the RT loop calls this on the
// output-side shim when a PROCESS_OUTPUT message arrives, and the
// resulting error (if any) determines whether rtloop still emits a
// HAVE_OUTPUT message to the server.
func (s *Node) HaveOutput() error {
	return s.impl.ProcessInput()
}

// NeedInput drives the local node to consume input, the shim
// equivalent of impl_process_output: the RT loop calls this on the
// input-side shim when a PROCESS_INPUT message arrives.
func (s *Node) NeedInput() error {
	return s.impl.ProcessOutput()
}

// ReuseBuffer forwards a PORT_REUSE_BUFFER notification to the local
// node's own port, mirroring impl_port_reuse_buffer (a trace-only
// no-op in the original, but a real forward here since node.Node
// exposes PortReuseBuffer as part of its contract).
func (s *Node) ReuseBuffer(portID, bufferID uint32) {
	s.impl.PortReuseBuffer(portID, bufferID)
}

// Package portupdate builds the PORT_UPDATE reply payload a control
// dispatcher sends after a port's params or info change.
// Grounded on remote.c's add_port_update: walk the node's full
// parameter space when PARAMS is requested, fetch and mask the port's
// info block when INFO is requested.
package portupdate

import "github.com/konsulko/pipewire/internal/node"

// ChangeMask bits, mirroring PW_CLIENT_NODE_PORT_UPDATE_*.
type ChangeMask uint32

const (
	ChangeParams ChangeMask = 1 << iota
	ChangeInfo
)

// Update is the payload handed to a control.Reply for a port update.
type Update struct {
	Direction  node.Direction
	PortID     uint32
	ChangeMask ChangeMask
	Params     []node.Pod
	Info       *node.PortInfo
}

// Build walks n's port id-list parameters (when mask has ChangeParams)
// and fetches the port's info (when mask has ChangeInfo), producing an
// Update ready to hand to a control.Reply. CanAllocBuffers is always
// masked off in the returned Info: a remote port can never allocate
// buffers on the server's behalf, matching add_port_update's
// "pi.flags &= ~SPA_PORT_INFO_FLAG_CAN_ALLOC_BUFFERS".
func Build(n node.Node, dir node.Direction, portID uint32, mask ChangeMask) (Update, error) {
	u := Update{Direction: dir, PortID: portID, ChangeMask: mask}

	if mask&ChangeParams != 0 {
		params, err := enumAllParams(n, dir, portID)
		if err != nil {
			return u, err
		}
		u.Params = params
	}

	if mask&ChangeInfo != 0 {
		info, err := n.PortInfo(dir, portID)
		if err != nil {
			return u, err
		}
		info.CanAllocBuffers = false
		u.Info = &info
	}

	return u, nil
}

// enumAllParams walks every parameter id the port supports (the outer
// idList enumeration) and, for each, every value of that parameter
// (the inner enumeration), mirroring add_port_update's nested
// spa_node_port_enum_params loops.
func enumAllParams(n node.Node, dir node.Direction, portID uint32) ([]node.Pod, error) {
	var out []node.Pod

	var idx1 uint32
	for {
		idPod, err := n.PortEnumParams(dir, portID, node.ParamIDList, &idx1, nil)
		if err != nil {
			return nil, err
		}
		if idPod == nil {
			break
		}

		id, ok := decodeID(idPod)
		if !ok {
			break
		}

		var idx2 uint32
		for {
			pod, err := n.PortEnumParams(dir, portID, id, &idx2, nil)
			if err != nil {
				return nil, err
			}
			if pod == nil {
				break
			}
			out = append(out, *pod)
		}
	}

	return out, nil
}

func decodeID(pod *node.Pod) (uint32, bool) {
	if pod == nil || len(pod.Bytes) < 4 {
		return 0, false
	}
	id := uint32(pod.Bytes[0]) | uint32(pod.Bytes[1])<<8 | uint32(pod.Bytes[2])<<16 | uint32(pod.Bytes[3])<<24
	return id, true
}

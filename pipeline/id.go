package pipeline

import "fmt"

// Identity types for the pipeline graph. All ids are newtypes over uint32
// that index directly into the dense storage slices owned by the Graph, so
// lookup is O(1) and ids stay stable for the life of a session.

// NodeID is an index into Graph.nodes.
type NodeID uint32

// EdgeID is an index into Graph.edges.
type EdgeID uint32

// VarID is an index into vartree.Tree.nodes.
type VarID uint32

const (
	// InvalidNodeID is the all-ones sentinel. It never indexes storage.
	InvalidNodeID NodeID = ^NodeID(0)
	// InvalidEdgeID is the all-ones sentinel.
	InvalidEdgeID EdgeID = ^EdgeID(0)
	// InvalidVarID is the all-ones sentinel.
	InvalidVarID VarID = ^VarID(0)
)

func (id NodeID) IsValid() bool { return id != InvalidNodeID }

// Index returns the id as a slice index.
func (id NodeID) Index() int { return int(id) }

func (id NodeID) String() string {
	if !id.IsValid() {
		return "NodeID(INVALID)"
	}
	return fmt.Sprintf("NodeID(%d)", uint32(id))
}

func (id EdgeID) IsValid() bool { return id != InvalidEdgeID }

func (id EdgeID) Index() int { return int(id) }

func (id EdgeID) String() string {
	if !id.IsValid() {
		return "EdgeID(INVALID)"
	}
	return fmt.Sprintf("EdgeID(%d)", uint32(id))
}

func (id VarID) IsValid() bool { return id != InvalidVarID }

func (id VarID) Index() int { return int(id) }

func (id VarID) String() string {
	if !id.IsValid() {
		return "VarID(INVALID)"
	}
	return fmt.Sprintf("VarID(%d)", uint32(id))
}

// PortID packs a node index and a port index into one word.
// High 20 bits are the node, low 12 bits the port, so a graph can hold
// up to 2^20 nodes with 4096 ports each.
type PortID uint32

const (
	portBits = 12
	portMask = 1<<portBits - 1

	// MaxPortIndex is the largest port index a PortID can carry.
	MaxPortIndex = portMask
	// MaxNodeIndex is the largest node index a PortID can carry.
	MaxNodeIndex = 1<<20 - 1
)

// NewPortID packs node and port. Port indices beyond MaxPortIndex are
// masked; callers validate against the node's port table first.
func NewPortID(node NodeID, port uint16) PortID {
	return PortID(uint32(node)<<portBits | uint32(port)&portMask)
}

// Node returns the node component.
func (p PortID) Node() NodeID { return NodeID(uint32(p) >> portBits) }

// PortIndex returns the port component.
func (p PortID) PortIndex() uint16 { return uint16(uint32(p) & portMask) }

func (p PortID) String() string {
	return fmt.Sprintf("PortID(node=%d, port=%d)", uint32(p.Node()), p.PortIndex())
}

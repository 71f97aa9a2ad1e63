package pipeline

import (
	"fmt"
	"sort"
)

// NodeInfo is one entry in the graph's node table.
type NodeInfo struct {
	ID     NodeID
	Kind   Kind
	Label  string
	Ports  []PortDescriptor
	Active bool
	// Config holds the last-written value per key so snapshots can replay
	// a node's settings to observers created after the fact.
	Config map[string]ConfigValue
}

// EdgeInfo is one entry in the graph's edge table.
type EdgeInfo struct {
	ID  EdgeID
	Src PortID
	Dst PortID
}

// Graph owns the dense node and edge tables of the pipeline. Ids index the
// tables directly; removed slots become tombstones and are reused by the
// next add, so live ids never relocate.
//
// Graph is not safe for concurrent use. The executor owns it and mutates it
// only between ticks.
type Graph struct {
	nodes []*NodeInfo
	edges []*EdgeInfo
	// byDst enforces single fan-in per destination port.
	byDst map[PortID]EdgeID

	freeNodes []NodeID
	freeEdges []EdgeID
}

func NewGraph() *Graph {
	return &Graph{byDst: make(map[PortID]EdgeID)}
}

// AddNode appends a node of the given kind and returns its id. Custom
// kinds must pass their port table via ports; builtin kinds ignore it.
func (g *Graph) AddNode(kind Kind, label string, ports []PortDescriptor) NodeID {
	if kind != Custom {
		ports = kind.Ports()
	}
	n := &NodeInfo{
		Kind:   kind,
		Label:  label,
		Ports:  ports,
		Active: true,
		Config: make(map[string]ConfigValue),
	}
	if l := len(g.freeNodes); l > 0 {
		id := g.freeNodes[l-1]
		g.freeNodes = g.freeNodes[:l-1]
		n.ID = id
		g.nodes[id.Index()] = n
		return id
	}
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return n.ID
}

// Node returns the entry for id, or nil if the id is invalid or removed.
func (g *Graph) Node(id NodeID) *NodeInfo {
	if !id.IsValid() || id.Index() >= len(g.nodes) {
		return nil
	}
	return g.nodes[id.Index()]
}

// Edge returns the entry for id, or nil if the id is invalid or removed.
func (g *Graph) Edge(id EdgeID) *EdgeInfo {
	if !id.IsValid() || id.Index() >= len(g.edges) {
		return nil
	}
	return g.edges[id.Index()]
}

// RemoveNode removes a node and all its incident edges. It returns the ids
// of the removed edges so the caller can release per-edge resources.
func (g *Graph) RemoveNode(id NodeID) ([]EdgeID, error) {
	n := g.Node(id)
	if n == nil {
		return nil, &NodeError{NodeID: id, Message: "no such node"}
	}
	var removed []EdgeID
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		if e.Src.Node() == id || e.Dst.Node() == id {
			removed = append(removed, e.ID)
		}
	}
	for _, eid := range removed {
		// Incident edges always exist here.
		_ = g.Disconnect(eid)
	}
	g.nodes[id.Index()] = nil
	g.freeNodes = append(g.freeNodes, id)
	return removed, nil
}

// Connect validates and creates a directed edge from src to dst.
func (g *Graph) Connect(src, dst PortID) (EdgeID, error) {
	sp, err := g.port(src)
	if err != nil {
		return InvalidEdgeID, err
	}
	dp, err := g.port(dst)
	if err != nil {
		return InvalidEdgeID, err
	}
	if sp.Direction != Output {
		return InvalidEdgeID, &PortMismatchError{
			Message: fmt.Sprintf("source %v (%s) is not an output port", src, sp.Name),
		}
	}
	if dp.Direction != Input {
		return InvalidEdgeID, &PortMismatchError{
			Message: fmt.Sprintf("destination %v (%s) is not an input port", dst, dp.Name),
		}
	}
	if sp.Kind != dp.Kind {
		return InvalidEdgeID, &PortMismatchError{
			Message: fmt.Sprintf("kind %s of %v does not match kind %s of %v", sp.Kind, src, dp.Kind, dst),
		}
	}
	if eid, ok := g.byDst[dst]; ok {
		return InvalidEdgeID, &InvalidEdgeError{
			Message: fmt.Sprintf("destination %v already connected by %v", dst, eid),
		}
	}
	if src.Node() == dst.Node() || g.reaches(dst.Node(), src.Node()) {
		return InvalidEdgeID, ErrCycleDetected
	}

	e := &EdgeInfo{Src: src, Dst: dst}
	if l := len(g.freeEdges); l > 0 {
		e.ID = g.freeEdges[l-1]
		g.freeEdges = g.freeEdges[:l-1]
		g.edges[e.ID.Index()] = e
	} else {
		e.ID = EdgeID(len(g.edges))
		g.edges = append(g.edges, e)
	}
	g.byDst[dst] = e.ID
	return e.ID, nil
}

// Disconnect removes an edge.
func (g *Graph) Disconnect(id EdgeID) error {
	e := g.Edge(id)
	if e == nil {
		return &InvalidEdgeError{Message: fmt.Sprintf("no such edge %v", id)}
	}
	delete(g.byDst, e.Dst)
	g.edges[id.Index()] = nil
	g.freeEdges = append(g.freeEdges, id)
	return nil
}

// EdgeInto returns the edge feeding the given destination port, or nil.
func (g *Graph) EdgeInto(dst PortID) *EdgeInfo {
	if eid, ok := g.byDst[dst]; ok {
		return g.Edge(eid)
	}
	return nil
}

// InEdges returns the edges whose destination is the given node.
func (g *Graph) InEdges(id NodeID) []*EdgeInfo {
	var in []*EdgeInfo
	for _, e := range g.edges {
		if e != nil && e.Dst.Node() == id {
			in = append(in, e)
		}
	}
	return in
}

// OutEdges returns the edges whose source is the given node.
func (g *Graph) OutEdges(id NodeID) []*EdgeInfo {
	var out []*EdgeInfo
	for _, e := range g.edges {
		if e != nil && e.Src.Node() == id {
			out = append(out, e)
		}
	}
	return out
}

// Walk calls f once per live node in table order.
func (g *Graph) Walk(f func(n *NodeInfo) error) error {
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		if err := f(n); err != nil {
			return err
		}
	}
	return nil
}

// Edges calls f once per live edge in table order.
func (g *Graph) Edges(f func(e *EdgeInfo) error) error {
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		if err := f(e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	c := 0
	for _, n := range g.nodes {
		if n != nil {
			c++
		}
	}
	return c
}

// port resolves a PortID to its descriptor, reporting the offending
// endpoint on failure.
func (g *Graph) port(id PortID) (PortDescriptor, error) {
	n := g.Node(id.Node())
	if n == nil {
		return PortDescriptor{}, &InvalidEdgeError{Message: fmt.Sprintf("endpoint %v: no such node", id)}
	}
	if int(id.PortIndex()) >= len(n.Ports) {
		return PortDescriptor{}, &PortMismatchError{
			Message: fmt.Sprintf("endpoint %v: node declares no such port", id),
		}
	}
	return n.Ports[id.PortIndex()], nil
}

// reaches reports whether to is reachable from from along edges, via DFS.
func (g *Graph) reaches(from, to NodeID) bool {
	if from == to {
		return true
	}
	seen := make(map[NodeID]bool)
	stack := []NodeID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		for _, e := range g.edges {
			if e == nil || e.Src.Node() != n {
				continue
			}
			c := e.Dst.Node()
			if c == to {
				return true
			}
			if !seen[c] {
				stack = append(stack, c)
			}
		}
	}
	return false
}

// Order computes the execution order with Kahn's algorithm, ties broken by
// ascending NodeID so the order is deterministic. Connect already refuses
// cycles, so a CycleDetected return indicates table corruption.
func (g *Graph) Order() ([]NodeID, error) {
	indeg := make(map[NodeID]int)
	for _, n := range g.nodes {
		if n != nil {
			indeg[n.ID] = 0
		}
	}
	for _, e := range g.edges {
		if e != nil {
			indeg[e.Dst.Node()]++
		}
	}

	var ready []NodeID
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]NodeID, 0, len(indeg))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		var unblocked []NodeID
		for _, e := range g.edges {
			if e == nil || e.Src.Node() != n {
				continue
			}
			c := e.Dst.Node()
			indeg[c]--
			if indeg[c] == 0 {
				unblocked = append(unblocked, c)
			}
		}
		if len(unblocked) > 0 {
			ready = append(ready, unblocked...)
			sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		}
	}
	if len(order) != len(indeg) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

package pipeline

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func outPort(g *Graph, id NodeID) PortID {
	n := g.Node(id)
	for i, p := range n.Ports {
		if p.Direction == Output {
			return NewPortID(id, uint16(i))
		}
	}
	panic("node has no output port")
}

func inPort(g *Graph, id NodeID) PortID {
	n := g.Node(id)
	for i, p := range n.Ports {
		if p.Direction == Input {
			return NewPortID(id, uint16(i))
		}
	}
	panic("node has no input port")
}

func TestGraphConnectValidation(t *testing.T) {
	g := NewGraph()
	src := g.AddNode(Source, "src", nil)
	flt := g.AddNode(Filter, "flt", nil)
	sink := g.AddNode(UIBroadcast, "ui", nil)

	// Output -> input of matching kind succeeds.
	if _, err := g.Connect(outPort(g, src), inPort(g, flt)); err != nil {
		t.Fatal(err)
	}

	// Input used as source is a port mismatch.
	var pm *PortMismatchError
	_, err := g.Connect(inPort(g, flt), inPort(g, sink))
	if !errors.As(err, &pm) {
		t.Errorf("expected PortMismatchError got %v", err)
	}

	// Undeclared port index.
	_, err = g.Connect(NewPortID(src, 5), inPort(g, sink))
	if !errors.As(err, &pm) {
		t.Errorf("expected PortMismatchError got %v", err)
	}

	// Unknown node.
	var ie *InvalidEdgeError
	_, err = g.Connect(NewPortID(NodeID(99), 0), inPort(g, sink))
	if !errors.As(err, &ie) {
		t.Errorf("expected InvalidEdgeError got %v", err)
	}

	// Second edge into the same destination port.
	_, err = g.Connect(outPort(g, flt), inPort(g, flt))
	if !errors.As(err, &ie) {
		// flt.in is already fed by src; fan-in is disallowed.
		t.Errorf("expected InvalidEdgeError got %v", err)
	}
}

func TestGraphCycleRejection(t *testing.T) {
	g := NewGraph()
	a := g.AddNode(Filter, "a", nil)
	b := g.AddNode(Filter, "b", nil)
	c := g.AddNode(Filter, "c", nil)

	if _, err := g.Connect(outPort(g, a), inPort(g, b)); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Connect(outPort(g, b), inPort(g, c)); err != nil {
		t.Fatal(err)
	}

	before := snapshotEdges(g)
	if _, err := g.Connect(outPort(g, c), inPort(g, a)); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected got %v", err)
	}
	after := snapshotEdges(g)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("rejected connect mutated the edge table:\n%s", diff)
	}

	// Self loop.
	if _, err := g.Connect(outPort(g, a), inPort(g, a)); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected for self loop got %v", err)
	}
}

func snapshotEdges(g *Graph) []EdgeInfo {
	var out []EdgeInfo
	_ = g.Edges(func(e *EdgeInfo) error {
		out = append(out, *e)
		return nil
	})
	return out
}

func TestGraphOrderTopological(t *testing.T) {
	g := NewGraph()
	src := g.AddNode(Source, "src", nil)
	f1 := g.AddNode(Filter, "f1", nil)
	f2 := g.AddNode(Script, "f2", nil)
	s1 := g.AddNode(UIBroadcast, "s1", nil)
	s2 := g.AddNode(GraphPane, "s2", nil)

	mustConnect(t, g, outPort(g, src), inPort(g, f1))
	mustConnect(t, g, outPort(g, f1), inPort(g, f2))
	mustConnect(t, g, outPort(g, f2), inPort(g, s1))
	mustConnect(t, g, outPort(g, f1), inPort(g, s2))

	order, err := g.Order()
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[NodeID]int)
	for i, id := range order {
		pos[id] = i
	}
	_ = g.Edges(func(e *EdgeInfo) error {
		if pos[e.Src.Node()] >= pos[e.Dst.Node()] {
			t.Errorf("edge %v -> %v violates topological order %v", e.Src.Node(), e.Dst.Node(), order)
		}
		return nil
	})

	// Ties break by ascending NodeID: f2 before its sibling sink s2 is
	// not required, but src must come first and the order must be stable.
	if order[0] != src {
		t.Errorf("expected source first, got %v", order)
	}
	again, err := g.Order()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, again) {
		t.Errorf("order not deterministic: %v vs %v", order, again)
	}
}

func TestGraphOrderTieBreak(t *testing.T) {
	g := NewGraph()
	// Three disconnected nodes: order must be ascending id.
	a := g.AddNode(Filter, "a", nil)
	b := g.AddNode(Filter, "b", nil)
	c := g.AddNode(Filter, "c", nil)
	order, err := g.Order()
	if err != nil {
		t.Fatal(err)
	}
	want := []NodeID{a, b, c}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("expected %v got %v", want, order)
	}
}

func TestGraphRemoveNode(t *testing.T) {
	g := NewGraph()
	src := g.AddNode(Source, "src", nil)
	flt := g.AddNode(Filter, "flt", nil)
	sink := g.AddNode(UIBroadcast, "ui", nil)
	e1 := mustConnect(t, g, outPort(g, src), inPort(g, flt))
	e2 := mustConnect(t, g, outPort(g, flt), inPort(g, sink))

	removed, err := g.RemoveNode(flt)
	if err != nil {
		t.Fatal(err)
	}
	got := map[EdgeID]bool{}
	for _, id := range removed {
		got[id] = true
	}
	if !got[e1] || !got[e2] || len(removed) != 2 {
		t.Errorf("expected removed edges {%v %v} got %v", e1, e2, removed)
	}
	if g.Node(flt) != nil {
		t.Error("node still present after removal")
	}
	if g.Len() != 2 {
		t.Errorf("expected 2 live nodes got %d", g.Len())
	}

	// The freed slot is reused and the destination port is free again.
	id := g.AddNode(Script, "script", nil)
	if id != flt {
		t.Errorf("expected slot reuse %v got %v", flt, id)
	}
	if _, err := g.Connect(outPort(g, src), inPort(g, sink)); err != nil {
		t.Fatal(err)
	}
}

func mustConnect(t *testing.T, g *Graph, src, dst PortID) EdgeID {
	t.Helper()
	id, err := g.Connect(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

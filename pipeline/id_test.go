package pipeline

import "testing"

func TestNodeID(t *testing.T) {
	id := NodeID(42)
	if !id.IsValid() {
		t.Error("expected NodeID(42) to be valid")
	}
	if got := id.Index(); got != 42 {
		t.Errorf("expected index 42 got %d", got)
	}
	if InvalidNodeID.IsValid() {
		t.Error("expected InvalidNodeID to be invalid")
	}
	if got := InvalidNodeID.String(); got != "NodeID(INVALID)" {
		t.Errorf("unexpected string %q", got)
	}
}

func TestEdgeID(t *testing.T) {
	if !EdgeID(5).IsValid() {
		t.Error("expected EdgeID(5) to be valid")
	}
	if InvalidEdgeID.IsValid() {
		t.Error("expected InvalidEdgeID to be invalid")
	}
}

func TestVarID(t *testing.T) {
	if !VarID(0).IsValid() {
		t.Error("expected VarID(0) to be valid")
	}
	if InvalidVarID.IsValid() {
		t.Error("expected InvalidVarID to be invalid")
	}
}

func TestPortIDRoundTrip(t *testing.T) {
	cases := []struct {
		node NodeID
		port uint16
	}{
		{0, 0},
		{100, 7},
		{1, 4095},
		{MaxNodeIndex, 0},
		{MaxNodeIndex, MaxPortIndex},
	}
	for _, c := range cases {
		p := NewPortID(c.node, c.port)
		if p.Node() != c.node || p.PortIndex() != c.port {
			t.Errorf("round trip (%v, %d) -> (%v, %d)", c.node, c.port, p.Node(), p.PortIndex())
		}
	}
}

func TestPortIDRoundTripSweep(t *testing.T) {
	// Stride through the full node and port ranges.
	for n := uint32(0); n <= MaxNodeIndex; n += 4099 {
		for p := uint32(0); p <= MaxPortIndex; p += 13 {
			id := NewPortID(NodeID(n), uint16(p))
			if uint32(id.Node()) != n || uint32(id.PortIndex()) != p {
				t.Fatalf("round trip (%d, %d) -> (%d, %d)", n, p, id.Node(), id.PortIndex())
			}
		}
	}
}

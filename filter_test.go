package datavis

import (
	"testing"

	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/hxyulin/datavis/vartree"
)

func newTestContext() *NodeContext {
	return &NodeContext{
		Input:        &edge.DataPacket{},
		Output:       &edge.DataPacket{},
		InputEvents:  &edge.EventRing{},
		OutputEvents: &edge.EventRing{},
		Vars:         vartree.New(),
		Send:         func(SinkMessage) bool { return true },
	}
}

func TestFilterPassthroughIdentity(t *testing.T) {
	f := newFilterNode("filter")
	ctx := newTestContext()
	ctx.Input.Timestamp = 500
	ctx.Input.Push(edge.Sample{VarID: 0, Raw: 1, Converted: 1.1})
	ctx.Input.Push(edge.Sample{VarID: 7, Raw: 2, Converted: 2.2})
	ctx.InputEvents.Push(edge.VariableError(3, "bad read"))

	f.OnData(ctx)

	if ctx.Output.Timestamp != 500 {
		t.Errorf("timestamp not copied: %d", ctx.Output.Timestamp)
	}
	if ctx.Output.Len() != 2 {
		t.Fatalf("expected 2 samples got %d", ctx.Output.Len())
	}
	for i := 0; i < 2; i++ {
		if ctx.Output.At(i) != ctx.Input.At(i) {
			t.Errorf("sample %d differs", i)
		}
	}
	if ctx.OutputEvents.Len() != 1 {
		t.Errorf("events not forwarded")
	}
	if !f.IsPassthrough() {
		t.Error("expected passthrough mode")
	}
}

func TestFilterCorrectness(t *testing.T) {
	cases := []struct {
		name    string
		allowed string
		invert  bool
		want    []pipeline.VarID
	}{
		{"allow list", "1,2", false, []pipeline.VarID{1, 2}},
		{"block list", "1,2", true, []pipeline.VarID{0, 3}},
		{"allow one", "3", false, []pipeline.VarID{3}},
		{"block one", "3", true, []pipeline.VarID{0, 1, 2}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFilterNode("filter")
			ctx := newTestContext()
			f.OnConfigChange("allowed_vars", pipeline.StringValue(c.allowed), ctx)
			f.OnConfigChange("invert_mode", pipeline.BoolValue(c.invert), ctx)

			for _, id := range []pipeline.VarID{0, 1, 2, 3} {
				ctx.Input.Push(edge.Sample{VarID: id, Raw: int64(id)})
			}
			f.OnData(ctx)

			var got []pipeline.VarID
			ctx.Output.Range(func(s edge.Sample) {
				got = append(got, s.VarID)
			})
			if len(got) != len(c.want) {
				t.Fatalf("expected %v got %v", c.want, got)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Fatalf("expected %v got %v", c.want, got)
				}
			}
		})
	}
}

func TestFilterClearRestoresPassthrough(t *testing.T) {
	f := newFilterNode("filter")
	ctx := newTestContext()
	f.OnConfigChange("allowed_vars", pipeline.StringValue("5"), ctx)
	f.OnConfigChange("invert_mode", pipeline.BoolValue(true), ctx)
	if f.IsPassthrough() {
		t.Fatal("expected filtering mode")
	}
	f.OnConfigChange("clear", pipeline.BoolValue(true), ctx)
	if !f.IsPassthrough() {
		t.Error("clear did not restore passthrough")
	}
}

func TestFilterIgnoresMalformedIDs(t *testing.T) {
	f := newFilterNode("filter")
	ctx := newTestContext()
	f.OnConfigChange("allowed_vars", pipeline.StringValue("1, bogus ,2"), ctx)

	ctx.Input.Push(edge.Sample{VarID: 1})
	ctx.Input.Push(edge.Sample{VarID: 2})
	ctx.Input.Push(edge.Sample{VarID: 9})
	f.OnData(ctx)
	if ctx.Output.Len() != 2 {
		t.Errorf("expected 2 samples got %d", ctx.Output.Len())
	}
}

func TestScriptNodeDropsFailingSamples(t *testing.T) {
	n := newScriptNode("script", nil)
	ctx := newTestContext()
	n.OnConfigChange("script", pipeline.StringValue(failEvenProgramName), ctx)
	n.prog = failEvenProgram{}

	ctx.Input.Push(edge.Sample{VarID: 0, Converted: 1})
	ctx.Input.Push(edge.Sample{VarID: 1, Converted: 2})
	ctx.Input.Push(edge.Sample{VarID: 2, Converted: 3})
	n.OnData(ctx)

	if ctx.Output.Len() != 1 {
		t.Fatalf("expected 1 surviving sample got %d", ctx.Output.Len())
	}
	if ctx.Output.At(0).VarID != 1 {
		t.Errorf("wrong sample survived: %v", ctx.Output.At(0).VarID)
	}
	// Each failure surfaced as a VariableError event.
	if ctx.OutputEvents.Len() != 2 {
		t.Errorf("expected 2 error events got %d", ctx.OutputEvents.Len())
	}
}

const failEvenProgramName = "test:fail-even"

type failEvenProgram struct{}

func (failEvenProgram) Eval(s edge.Sample, now int64) (edge.Sample, bool, error) {
	if uint32(s.VarID)%2 == 0 {
		return s, false, &pipeline.ScriptError{Message: "even var"}
	}
	return s, true, nil
}

func TestScriptNodeBuiltinLowpass(t *testing.T) {
	n := newScriptNode("script", nil)
	ctx := newTestContext()
	n.OnConfigChange("alpha", pipeline.FloatValue(0.5), ctx)
	n.OnConfigChange("script", pipeline.StringValue("builtin:lowpass"), ctx)
	if n.prog == nil {
		t.Fatal("builtin program not compiled")
	}

	ctx.Input.Push(edge.Sample{VarID: 0, Converted: 4})
	n.OnData(ctx)
	if ctx.Output.Len() != 1 {
		t.Fatalf("expected 1 sample got %d", ctx.Output.Len())
	}
}

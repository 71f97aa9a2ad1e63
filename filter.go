package datavis

import (
	"strconv"
	"strings"

	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
)

// FilterNode passes samples through by variable id. With no allowed_vars
// configured it is a pure passthrough. Otherwise a sample with id v passes
// iff (v in allowed_vars) XOR invert_mode. Events always pass.
type FilterNode struct {
	node
	allowed map[uint32]bool
	invert  bool
}

func newFilterNode(name string) *FilterNode {
	return &FilterNode{node: newNodeBase(name), allowed: make(map[uint32]bool)}
}

func (n *FilterNode) Ports() []pipeline.PortDescriptor {
	return pipeline.Filter.Ports()
}

func (n *FilterNode) OnActivate(ctx *NodeContext) {}

func (n *FilterNode) OnData(ctx *NodeContext) {
	n.statMap.Add(statCollected, int64(ctx.Input.Len()))
	if len(n.allowed) == 0 {
		ctx.Output.CopyFrom(ctx.Input)
	} else {
		ctx.Output.Timestamp = ctx.Input.Timestamp
		ctx.Input.Range(func(s edge.Sample) {
			pass := n.allowed[uint32(s.VarID)] != n.invert
			if pass {
				ctx.Output.Push(s)
			}
		})
	}
	n.statMap.Add(statEmitted, int64(ctx.Output.Len()))
	forwardEvents(ctx)
}

func (n *FilterNode) OnDeactivate(ctx *NodeContext) {}

func (n *FilterNode) OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext) {
	switch key {
	case "allowed_vars":
		// Comma-separated var ids, e.g. "0,1,5,12".
		s, ok := value.AsString()
		if !ok {
			return
		}
		n.allowed = make(map[uint32]bool)
		if s == "" {
			return
		}
		for _, part := range strings.Split(s, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
			if err != nil {
				n.logger.Printf("W! ignoring bad var id %q in allowed_vars", part)
				continue
			}
			n.allowed[uint32(id)] = true
		}
	case "invert_mode":
		if b, ok := value.AsBool(); ok {
			n.invert = b
		}
	case "clear":
		n.allowed = make(map[uint32]bool)
		n.invert = false
	}
}

// IsPassthrough reports whether the filter currently passes everything.
func (n *FilterNode) IsPassthrough() bool { return len(n.allowed) == 0 }

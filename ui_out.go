package datavis

import (
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
)

// UIBroadcastNode translates its input packet into DataBatch messages for
// every UI consumer. Sends never block: a full sink channel counts a drop
// and the tick moves on.
type UIBroadcastNode struct {
	node
	active  bool
	dropped int64
}

func newUIBroadcastNode(name string) *UIBroadcastNode {
	return &UIBroadcastNode{node: newNodeBase(name), active: true}
}

func (n *UIBroadcastNode) Ports() []pipeline.PortDescriptor {
	return pipeline.UIBroadcast.Ports()
}

func (n *UIBroadcastNode) OnActivate(ctx *NodeContext) {
	n.dropped = 0
}

func (n *UIBroadcastNode) OnData(ctx *NodeContext) {
	forwardReadErrors(ctx)
	if !n.active || ctx.Input.IsEmpty() {
		return
	}
	n.statMap.Add(statCollected, int64(ctx.Input.Len()))
	batch := make([]BatchSample, 0, ctx.Input.Len())
	ctx.Input.Range(func(s edge.Sample) {
		batch = append(batch, BatchSample{
			VarID:     s.VarID,
			Timestamp: ctx.Input.Timestamp,
			Raw:       s.Raw,
			Converted: s.Converted,
		})
	})
	if !ctx.Send(DataBatch{Data: batch}) {
		n.dropped++
		n.statMap.Add(statDropped, 1)
		return
	}
	n.statMap.Add(statEmitted, 1)
}

func (n *UIBroadcastNode) OnDeactivate(ctx *NodeContext) {
	if n.dropped > 0 {
		n.logger.Printf("W! dropped %d messages due to backpressure", n.dropped)
	}
}

func (n *UIBroadcastNode) OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext) {
	if key == "active" {
		if b, ok := value.AsBool(); ok {
			n.active = b
		}
	}
}

// Dropped returns the number of batches dropped since activation.
func (n *UIBroadcastNode) Dropped() int64 { return n.dropped }

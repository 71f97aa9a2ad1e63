package datavis

import (
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
)

// GraphPaneNode routes data batches to one graph pane. Each pane sink is
// independent, so panes can consume different slices of the stream without
// crosstalk.
type GraphPaneNode struct {
	node
	paneID  *uint64
	active  bool
	dropped int64
}

func newGraphPaneNode(name string) *GraphPaneNode {
	return &GraphPaneNode{node: newNodeBase(name), active: true}
}

func (n *GraphPaneNode) Ports() []pipeline.PortDescriptor {
	return pipeline.GraphPane.Ports()
}

func (n *GraphPaneNode) OnActivate(ctx *NodeContext) {
	n.dropped = 0
}

func (n *GraphPaneNode) OnData(ctx *NodeContext) {
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
	if !ctx.Send(GraphDataBatch{PaneID: n.paneID, Data: batch}) {
		n.dropped++
		n.statMap.Add(statDropped, 1)
		return
	}
	n.statMap.Add(statEmitted, 1)
}

func (n *GraphPaneNode) OnDeactivate(ctx *NodeContext) {
	if n.dropped > 0 {
		if n.paneID != nil {
			n.logger.Printf("W! pane %d dropped %d messages due to backpressure", *n.paneID, n.dropped)
		} else {
			n.logger.Printf("W! dropped %d messages due to backpressure", n.dropped)
		}
	}
}

func (n *GraphPaneNode) OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext) {
	switch key {
	case "pane_id":
		if id, ok := value.AsInt(); ok && id >= 0 {
			pane := uint64(id)
			n.paneID = &pane
		} else if s, ok := value.AsString(); ok && s == "none" {
			n.paneID = nil
		}
	case "active":
		if b, ok := value.AsBool(); ok {
			n.active = b
		}
	}
}

// PaneID returns the pane this sink feeds, or nil when unrouted.
func (n *GraphPaneNode) PaneID() *uint64 { return n.paneID }

// Dropped returns the number of batches dropped since activation.
func (n *GraphPaneNode) Dropped() int64 { return n.dropped }

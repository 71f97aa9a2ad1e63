package datavis

import (
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/hxyulin/datavis/probe"
)

// ProbeSourceNode polls the probe driver once per tick and turns its
// readings into samples. Variables are interned in the tree the first time
// they are seen; their ids never change after that.
type ProbeSourceNode struct {
	node
	probe probe.Probe
	open  bool
}

func newProbeSourceNode(name string, p probe.Probe) *ProbeSourceNode {
	return &ProbeSourceNode{node: newNodeBase(name), probe: p}
}

func (n *ProbeSourceNode) Ports() []pipeline.PortDescriptor {
	return pipeline.Source.Ports()
}

func (n *ProbeSourceNode) OnActivate(ctx *NodeContext) {
	if err := n.probe.Open(); err != nil {
		n.logger.Println("E! failed to open probe:", err)
		return
	}
	n.open = true
}

func (n *ProbeSourceNode) OnData(ctx *NodeContext) {
	ctx.Output.Timestamp = ctx.Now
	if !n.open {
		return
	}
	readings, err := n.probe.Poll(ctx.Now)
	if err != nil {
		// A poll-level failure produces no samples this tick but does not
		// abort it.
		n.statMap.Add(statErrors, 1)
		n.logger.Println("E!", &pipeline.ProbeError{Message: err.Error()})
		return
	}
	for _, r := range readings {
		id, ierr := n.intern(ctx, r)
		if ierr != nil {
			n.statMap.Add(statErrors, 1)
			n.logger.Println("E!", ierr)
			continue
		}
		if r.Err != nil {
			ctx.OutputEvents.Push(edge.VariableError(id, r.Err.Error()))
			continue
		}
		if !ctx.Output.Push(edge.Sample{VarID: id, Raw: r.Raw, Converted: r.Converted}) {
			n.statMap.Add(statDropped, 1)
			continue
		}
		ctx.Vars.UpdateStat(id, r.Raw, r.Converted, ctx.Now)
		n.statMap.Add(statEmitted, 1)
	}
}

func (n *ProbeSourceNode) OnDeactivate(ctx *NodeContext) {
	if !n.open {
		return
	}
	n.open = false
	if err := n.probe.Close(); err != nil {
		n.logger.Println("E! failed to close probe:", err)
	}
}

func (n *ProbeSourceNode) OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext) {
}

// intern resolves a reading to its VarID, creating parent groups and the
// variable entry as needed.
func (n *ProbeSourceNode) intern(ctx *NodeContext, r probe.Reading) (pipeline.VarID, error) {
	parent := pipeline.InvalidVarID
	for _, seg := range r.Parent {
		id, err := ctx.Vars.Intern(seg, r.Type, parent)
		if err != nil {
			return pipeline.InvalidVarID, err
		}
		parent = id
	}
	id, err := ctx.Vars.Intern(r.Name, r.Type, parent)
	if err != nil {
		return pipeline.InvalidVarID, err
	}
	if r.HasAddr {
		ctx.Vars.SetAddr(id, r.Addr)
	}
	return id, nil
}

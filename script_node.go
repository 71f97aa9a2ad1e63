package datavis

import (
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/hxyulin/datavis/script"
)

// ScriptNode runs a compiled script over every sample. Evaluation failures
// drop the sample and surface as VariableError events; they never abort
// the tick. With no script configured the node passes data through.
type ScriptNode struct {
	node
	engine script.Engine
	prog   script.Program
	alpha  float64
	// src remembers the last script text so an alpha change can rebuild a
	// builtin program.
	src string
}

func newScriptNode(name string, engine script.Engine) *ScriptNode {
	return &ScriptNode{node: newNodeBase(name), engine: engine, alpha: 0.1}
}

func (n *ScriptNode) Ports() []pipeline.PortDescriptor {
	return pipeline.Script.Ports()
}

func (n *ScriptNode) OnActivate(ctx *NodeContext) {}

func (n *ScriptNode) OnData(ctx *NodeContext) {
	n.statMap.Add(statCollected, int64(ctx.Input.Len()))
	if n.prog == nil {
		ctx.Output.CopyFrom(ctx.Input)
		n.statMap.Add(statEmitted, int64(ctx.Output.Len()))
		forwardEvents(ctx)
		return
	}
	ctx.Output.Timestamp = ctx.Input.Timestamp
	ctx.Input.Range(func(s edge.Sample) {
		out, keep, err := n.prog.Eval(s, ctx.Now)
		if err != nil {
			n.statMap.Add(statErrors, 1)
			ctx.OutputEvents.Push(edge.VariableError(s.VarID, err.Error()))
			return
		}
		if keep {
			ctx.Output.Push(out)
		}
	})
	n.statMap.Add(statEmitted, int64(ctx.Output.Len()))
	forwardEvents(ctx)
}

func (n *ScriptNode) OnDeactivate(ctx *NodeContext) {}

func (n *ScriptNode) OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext) {
	switch key {
	case "script":
		src, ok := value.AsString()
		if !ok {
			return
		}
		n.src = src
		n.compile()
	case "alpha":
		if f, ok := value.AsFloat(); ok {
			n.alpha = f
			if script.IsBuiltin(n.src) {
				n.compile()
			}
		}
	case "clear":
		n.src = ""
		n.prog = nil
	}
}

// compile swaps in the new program, keeping the old one on failure.
func (n *ScriptNode) compile() {
	if n.src == "" {
		n.prog = nil
		return
	}
	var (
		prog script.Program
		err  error
	)
	if script.IsBuiltin(n.src) {
		prog, err = script.NewBuiltin(n.src, n.alpha)
	} else if n.engine != nil {
		prog, err = n.engine.Compile(n.name, n.src)
	} else {
		err = &pipeline.ScriptError{Message: "no script engine configured"}
	}
	if err != nil {
		n.statMap.Add(statErrors, 1)
		n.logger.Println("E! script compile failed:", err)
		return
	}
	n.prog = prog
}

package datavis

import (
	"expvar"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/hxyulin/datavis/vartree"
	"github.com/influxdata/wlog"
)

// logOutput is where node and executor loggers write. The daemon may
// redirect it to a rotating file before building the pipeline.
var logOutput io.Writer = os.Stderr

// SetLogOutput redirects pipeline logging. Call before Build.
func SetLogOutput(w io.Writer) { logOutput = w }

const (
	statCollected = "collected"
	statEmitted   = "emitted"
	statDropped   = "dropped"
	statErrors    = "errors"
)

// NodeContext is handed to every node callback. Nodes may mutate only
// Output and OutputEvents; Input views belong to the upstream edge.
type NodeContext struct {
	// Input is the packet on the node's input edge. Always non-nil; an
	// unconnected input reads as an empty packet.
	Input *edge.DataPacket
	// Output is the node's output packet, cleared before OnData.
	Output       *edge.DataPacket
	InputEvents  *edge.EventRing
	OutputEvents *edge.EventRing

	// Vars is the pipeline's variable tree.
	Vars *vartree.Tree

	// Now is the current tick's timestamp, monotonic nanoseconds since
	// pipeline activation.
	Now int64

	// Send delivers a message on the sink channel without blocking. It
	// reports false when the channel was full and the message dropped.
	Send func(SinkMessage) bool
}

// Node is the runtime shape shared by every node implementation.
//
// Builtin kinds are concrete structs selected by a kind switch when the
// node is created, so the per-tick dispatch is a direct interface call
// with no lookup. The same interface doubles as AnyNode, the extension
// point for custom kinds registered on the builder.
type Node interface {
	Name() string
	Ports() []pipeline.PortDescriptor
	OnActivate(ctx *NodeContext)
	OnData(ctx *NodeContext)
	OnDeactivate(ctx *NodeContext)
	OnConfigChange(key string, value pipeline.ConfigValue, ctx *NodeContext)
}

// AnyNode is the open extension point for plugin nodes. Custom kinds are
// allowed to dispatch indirectly; builtin kinds stay on the hot path.
type AnyNode = Node

// CustomNodeFactory builds a plugin node. The returned port table is
// registered as the node's static declaration.
type CustomNodeFactory func(label string) (Node, []pipeline.PortDescriptor, error)

// node is the embedded base every builtin node shares: a name, a leveled
// logger and a stat map.
type node struct {
	name    string
	logger  *log.Logger
	statMap *expvar.Map
}

func newNodeBase(name string) node {
	sm := &expvar.Map{}
	sm.Init()
	sm.Add(statCollected, 0)
	sm.Add(statEmitted, 0)
	sm.Add(statDropped, 0)
	return node{
		name:    name,
		logger:  wlog.New(logOutput, fmt.Sprintf("[%s] ", name), log.LstdFlags),
		statMap: sm,
	}
}

func (n *node) Name() string { return n.name }

// Stats returns the node's stat counters as a plain map.
func (n *node) Stats() map[string]int64 {
	stats := make(map[string]int64)
	n.statMap.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			stats[kv.Key] = v.Value()
		}
	})
	return stats
}

// forwardEvents copies input events to output events unchanged.
func forwardEvents(ctx *NodeContext) {
	ctx.InputEvents.Range(func(ev edge.PipelineEvent) {
		ctx.OutputEvents.Push(ev)
	})
}

// forwardReadErrors translates VariableError events into ReadError sink
// messages. Shared by the UI broadcast and graph-pane sinks.
func forwardReadErrors(ctx *NodeContext) {
	ctx.InputEvents.Range(func(ev edge.PipelineEvent) {
		if ev.Kind != edge.EventVariableError {
			return
		}
		ctx.Send(ReadError{VariableID: uint32(ev.VarID), Error: ev.Message})
	})
}

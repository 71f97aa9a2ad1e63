package datavis

import (
	"expvar"
	"time"

	"github.com/google/uuid"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/hxyulin/datavis/vartree"
)

// The bridge is the only surface between the pipeline worker and the rest
// of the process: commands flow in, sink messages and command results flow
// out. All three channels are bounded; the worker never blocks on any of
// them.

// Command is a request submitted to the pipeline worker. Commands observed
// in the same tick take effect before OnData runs.
type Command interface {
	// Correlation returns the id echoed back in the CommandResult.
	Correlation() uuid.UUID
}

// CommandBase carries the correlation id shared by all commands.
type CommandBase struct {
	ID uuid.UUID
}

func (c CommandBase) Correlation() uuid.UUID { return c.ID }

// NewCommandBase allocates a correlation id for a command.
func NewCommandBase() CommandBase { return CommandBase{ID: uuid.New()} }

// AddNode creates a node of the given kind. Source is rejected; the
// executor owns the single source node. For Kind Custom, CustomType names
// a factory registered on the builder.
type AddNode struct {
	CommandBase
	Kind       pipeline.Kind
	Label      string
	CustomType string
}

// RemoveNode removes a node and its incident edges.
type RemoveNode struct {
	CommandBase
	Node pipeline.NodeID
}

// Connect creates an edge from an output port to an input port.
type Connect struct {
	CommandBase
	Src pipeline.PortID
	Dst pipeline.PortID
}

// Disconnect removes an edge.
type Disconnect struct {
	CommandBase
	Edge pipeline.EdgeID
}

// SetConfig updates one config key on a node.
type SetConfig struct {
	CommandBase
	Node  pipeline.NodeID
	Key   string
	Value pipeline.ConfigValue
}

// SetActive toggles a node's active flag.
type SetActive struct {
	CommandBase
	Node   pipeline.NodeID
	Active bool
}

// Start activates the pipeline. The activation instant becomes timestamp
// zero.
type Start struct{ CommandBase }

// Stop deactivates the pipeline at the next tick boundary.
type Stop struct{ CommandBase }

// Shutdown deactivates the pipeline and exits the worker loop.
type Shutdown struct{ CommandBase }

// SetTickInterval changes the target tick period.
type SetTickInterval struct {
	CommandBase
	Interval time.Duration
}

// RequestTopologySnapshot asks for an immediate, unthrottled topology
// snapshot on the sink channel.
type RequestTopologySnapshot struct{ CommandBase }

// RequestSession asks a recorder node for a snapshot of its session
// buffer, returned in the CommandResult.
type RequestSession struct {
	CommandBase
	Node pipeline.NodeID
}

// CommandResult is the reply for one command. Err is nil on success.
type CommandResult struct {
	CorrelationID uuid.UUID
	Err           error

	// Node is set for AddNode.
	Node pipeline.NodeID
	// Edge is set for Connect.
	Edge pipeline.EdgeID
	// Session is set for RequestSession.
	Session *SessionSnapshot
}

// BatchSample is one sample inside an outbound data batch.
type BatchSample struct {
	VarID     pipeline.VarID
	Timestamp int64
	Raw       int64
	Converted float64
}

// SinkMessage is a message emitted by the pipeline for the outside.
type SinkMessage interface{ sinkMessage() }

// DataBatch addresses all UI consumers.
type DataBatch struct {
	Data []BatchSample
}

// GraphDataBatch addresses one graph pane. PaneID nil means unrouted.
type GraphDataBatch struct {
	PaneID *uint64
	Data   []BatchSample
}

// ReadError annotates one variable with a read or evaluation failure.
type ReadError struct {
	VariableID uint32
	Error      string
}

// Topology carries a point-in-time snapshot of the graph.
type Topology struct {
	Snapshot TopologySnapshot
}

func (DataBatch) sinkMessage()      {}
func (GraphDataBatch) sinkMessage() {}
func (ReadError) sinkMessage()      {}
func (Topology) sinkMessage()       {}

// NodeSnapshot is an immutable copy of one node's public state.
type NodeSnapshot struct {
	ID     pipeline.NodeID
	Kind   pipeline.Kind
	Label  string
	Active bool
	Config map[string]pipeline.ConfigValue
}

// EdgeSnapshot is an immutable copy of one edge.
type EdgeSnapshot struct {
	ID  pipeline.EdgeID
	Src pipeline.PortID
	Dst pipeline.PortID
}

// TopologySnapshot is what the UI renders from. It shares nothing with the
// live graph.
type TopologySnapshot struct {
	Nodes     []NodeSnapshot
	Edges     []EdgeSnapshot
	Variables []vartree.Snapshot
}

// SessionFrame is one recorded sample.
type SessionFrame struct {
	Timestamp int64
	Raw       int64
	Converted float64
}

// SessionVariable is the recorded history of one variable.
type SessionVariable struct {
	VarID  pipeline.VarID
	Name   string
	Frames []SessionFrame
}

// SessionSnapshot is a copy of a recorder node's session buffer, frames in
// tick order per variable.
type SessionSnapshot struct {
	Variables []SessionVariable
}

// Bridge bundles the bounded channels connecting the worker to the
// outside. The worker receives from Commands and sends to Sink and
// Replies; the outside does the opposite and must never close Sink or
// Replies. Closing Commands is an implicit Shutdown.
type Bridge struct {
	Commands chan Command
	Sink     chan SinkMessage
	Replies  chan CommandResult

	stats *expvar.Map
}

const (
	// DefaultCommandBuffer is the command channel capacity.
	DefaultCommandBuffer = 64
	// DefaultSinkBuffer is the sink-message channel capacity.
	DefaultSinkBuffer = 256
	// DefaultReplyBuffer is the reply channel capacity.
	DefaultReplyBuffer = 64
)

// NewBridge creates a bridge with the given channel capacities. Zero or
// negative capacities fall back to the defaults.
func NewBridge(commandBuf, sinkBuf, replyBuf int) *Bridge {
	if commandBuf <= 0 {
		commandBuf = DefaultCommandBuffer
	}
	if sinkBuf <= 0 {
		sinkBuf = DefaultSinkBuffer
	}
	if replyBuf <= 0 {
		replyBuf = DefaultReplyBuffer
	}
	sm := &expvar.Map{}
	sm.Init()
	sm.Add(statDropped, 0)
	return &Bridge{
		Commands: make(chan Command, commandBuf),
		Sink:     make(chan SinkMessage, sinkBuf),
		Replies:  make(chan CommandResult, replyBuf),
		stats:    sm,
	}
}

// Submit enqueues a command without blocking. It returns ErrChannelSend
// when the command channel is full.
func (b *Bridge) Submit(cmd Command) error {
	select {
	case b.Commands <- cmd:
		return nil
	default:
		return pipeline.ErrChannelSend
	}
}

// trySink sends a sink message without blocking, reporting false on a full
// channel.
func (b *Bridge) trySink(m SinkMessage) bool {
	select {
	case b.Sink <- m:
		return true
	default:
		return false
	}
}

// tryReply sends a command result without blocking. Reply drops are
// counted, never raised.
func (b *Bridge) tryReply(r CommandResult) {
	select {
	case b.Replies <- r:
	default:
		b.stats.Add(statDropped, 1)
	}
}

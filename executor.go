package datavis

import (
	"expvar"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/hxyulin/datavis/clock"
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/hxyulin/datavis/probe"
	"github.com/hxyulin/datavis/script"
	"github.com/hxyulin/datavis/vartree"
	"github.com/influxdata/wlog"
	"github.com/pkg/errors"
)

const (
	// DefaultTickInterval is the target tick period until a
	// SetTickInterval command changes it.
	DefaultTickInterval = time.Millisecond
	// DefaultSnapshotInterval throttles unsolicited topology snapshots.
	DefaultSnapshotInterval = 250 * time.Millisecond
)

const (
	statTicks    = "ticks"
	statCommands = "commands"
)

type pipelineState int

const (
	stateIdle pipelineState = iota
	stateActive
)

// Builder assembles an Executor around the bridge channels.
type Builder struct {
	bridge        *Bridge
	clk           clock.Clock
	prb           probe.Probe
	engine        script.Engine
	interval      time.Duration
	snapshotEvery time.Duration
	custom        map[string]CustomNodeFactory
}

// NewBuilder starts a builder. The bridge is required here and a probe must
// be set with WithProbe before Build; the other settings are optional.
func NewBuilder(bridge *Bridge) *Builder {
	return &Builder{
		bridge:        bridge,
		interval:      DefaultTickInterval,
		snapshotEvery: DefaultSnapshotInterval,
		custom:        make(map[string]CustomNodeFactory),
	}
}

// WithClock overrides the wall clock. Tests pass a set clock.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clk = c
	return b
}

// WithProbe sets the probe driver the source node polls. Required.
func (b *Builder) WithProbe(p probe.Probe) *Builder {
	b.prb = p
	return b
}

// WithScriptEngine sets the engine behind script nodes.
func (b *Builder) WithScriptEngine(e script.Engine) *Builder {
	b.engine = e
	return b
}

// WithTickInterval sets the initial tick period.
func (b *Builder) WithTickInterval(d time.Duration) *Builder {
	if d > 0 {
		b.interval = d
	}
	return b
}

// WithSnapshotInterval sets the topology snapshot throttle.
func (b *Builder) WithSnapshotInterval(d time.Duration) *Builder {
	if d > 0 {
		b.snapshotEvery = d
	}
	return b
}

// WithCustomKind registers a plugin node factory addressable by AddNode
// commands with Kind Custom.
func (b *Builder) WithCustomKind(name string, f CustomNodeFactory) *Builder {
	b.custom[name] = f
	return b
}

// Build creates the executor with the source node already in the graph.
func (b *Builder) Build() (*Executor, error) {
	if b.bridge == nil {
		return nil, errors.New("builder requires a bridge")
	}
	if b.prb == nil {
		return nil, errors.New("builder requires a probe")
	}
	if b.clk == nil {
		b.clk = clock.Wall()
	}
	ex := &Executor{
		bridge:        b.bridge,
		clk:           b.clk,
		engine:        b.engine,
		custom:        b.custom,
		interval:      b.interval,
		snapshotEvery: b.snapshotEvery,
		graph:         pipeline.NewGraph(),
		vars:          vartree.New(),
		impls:         make(map[pipeline.NodeID]Node),
		activated:     make(map[pipeline.NodeID]bool),
		outPackets:    make(map[pipeline.NodeID]*edge.DataPacket),
		outEvents:     make(map[pipeline.NodeID]*edge.EventRing),
		edgePackets:   make(map[pipeline.EdgeID]*edge.DataPacket),
		edgeEvents:    make(map[pipeline.EdgeID]*edge.EventRing),
		logger:        wlog.New(logOutput, "[pipeline] ", log.LstdFlags),
	}
	sm := &expvar.Map{}
	sm.Init()
	sm.Add(statTicks, 0)
	sm.Add(statCommands, 0)
	ex.statMap = sm

	ex.sourceID = ex.graph.AddNode(pipeline.Source, "probe", nil)
	ex.impls[ex.sourceID] = newProbeSourceNode("probe", b.prb)
	ex.outPackets[ex.sourceID] = &edge.DataPacket{}
	ex.outEvents[ex.sourceID] = &edge.EventRing{}
	ex.dirty = true
	return ex, nil
}

// Executor owns the whole pipeline: graph, variable tree, node
// implementations and the per-edge packet buffers. It runs on one
// dedicated goroutine; nothing here is safe to touch from outside except
// through the bridge.
type Executor struct {
	bridge *Bridge
	clk    clock.Clock
	engine script.Engine
	custom map[string]CustomNodeFactory

	graph *pipeline.Graph
	vars  *vartree.Tree

	interval      time.Duration
	snapshotEvery time.Duration

	state    pipelineState
	zero     time.Time
	order    []pipeline.NodeID
	dirty    bool
	sourceID pipeline.NodeID

	impls     map[pipeline.NodeID]Node
	activated map[pipeline.NodeID]bool

	// One output packet and event ring per node; one packet and ring per
	// edge. All allocated at build/connect time and reused every tick.
	outPackets  map[pipeline.NodeID]*edge.DataPacket
	outEvents   map[pipeline.NodeID]*edge.EventRing
	edgePackets map[pipeline.EdgeID]*edge.DataPacket
	edgeEvents  map[pipeline.EdgeID]*edge.EventRing

	emptyPacket edge.DataPacket
	emptyEvents edge.EventRing

	lastSnapshot time.Time

	logger  *log.Logger
	statMap *expvar.Map
}

// SourceID returns the id of the source node the executor owns.
func (ex *Executor) SourceID() pipeline.NodeID { return ex.sourceID }

// Stats returns the executor's counters as a plain map. Only safe to call
// once Run has returned.
func (ex *Executor) Stats() map[string]int64 {
	stats := make(map[string]int64)
	ex.statMap.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			stats[kv.Key] = v.Value()
		}
	})
	return stats
}

// Run is the worker loop: drain commands, run one tick, sleep until the
// next scheduled tick. It returns after a Shutdown command or when the
// command channel closes.
func (ex *Executor) Run() error {
	ex.logger.Println("I! pipeline worker started")
	defer ex.teardown()

	next := ex.clk.Zero()
	for {
		ex.clk.Until(next)
		if ex.drainCommands(next) {
			ex.logger.Println("I! pipeline worker exiting")
			return nil
		}
		if ex.state == stateActive {
			ex.tick(next)
		}
		next = next.Add(ex.interval)
	}
}

// teardown guarantees OnDeactivate runs for every activated node on every
// exit path, including a panic escaping the loop.
func (ex *Executor) teardown() {
	ex.deactivateAll()
	close(ex.bridge.Sink)
	close(ex.bridge.Replies)
}

// drainCommands applies all pending commands. It reports true when the
// worker should exit.
func (ex *Executor) drainCommands(tickTime time.Time) bool {
	for {
		select {
		case cmd, ok := <-ex.bridge.Commands:
			if !ok {
				// The outside hung up: implicit shutdown.
				ex.logger.Println("W! command channel closed")
				return true
			}
			ex.statMap.Add(statCommands, 1)
			if ex.apply(cmd, tickTime) {
				return true
			}
		default:
			return false
		}
	}
}

// apply executes one command and replies. It reports true on Shutdown.
func (ex *Executor) apply(cmd Command, tickTime time.Time) (shutdown bool) {
	res := CommandResult{CorrelationID: cmd.Correlation()}
	defer func() {
		if res.Err != nil {
			ex.logger.Printf("E! command rejected: %v", res.Err)
		}
		ex.bridge.tryReply(res)
	}()

	switch c := cmd.(type) {
	case AddNode:
		res.Node, res.Err = ex.addNode(c)
	case RemoveNode:
		res.Err = ex.removeNode(c.Node)
	case Connect:
		res.Edge, res.Err = ex.connect(c.Src, c.Dst)
	case Disconnect:
		res.Err = ex.disconnect(c.Edge)
	case SetConfig:
		res.Err = ex.setConfig(c)
	case SetActive:
		res.Err = ex.setActive(c.Node, c.Active)
	case Start:
		ex.start(tickTime)
	case Stop:
		if ex.state != stateActive {
			res.Err = pipeline.ErrNotActive
			break
		}
		ex.deactivateAll()
		ex.state = stateIdle
		ex.logger.Println("I! pipeline stopped")
	case Shutdown:
		ex.deactivateAll()
		ex.state = stateIdle
		return true
	case SetTickInterval:
		if c.Interval <= 0 {
			res.Err = errors.Errorf("invalid tick interval %v", c.Interval)
			break
		}
		ex.interval = c.Interval
	case RequestTopologySnapshot:
		if !ex.bridge.trySink(Topology{Snapshot: ex.snapshot()}) {
			res.Err = pipeline.ErrChannelSend
		}
	case RequestSession:
		rec, ok := ex.impls[c.Node].(*RecorderNode)
		if !ok {
			res.Err = &pipeline.NodeError{NodeID: c.Node, Message: "not a recorder node"}
			break
		}
		res.Session = rec.SessionSnapshot(ex.vars.Name)
	default:
		res.Err = errors.Errorf("unknown command %T", cmd)
	}
	return false
}

func (ex *Executor) start(tickTime time.Time) {
	if ex.state == stateActive {
		return
	}
	ex.state = stateActive
	ex.zero = tickTime
	ex.lastSnapshot = time.Time{}
	err := ex.graph.Walk(func(info *pipeline.NodeInfo) error {
		if info.Active {
			ex.activateNode(info.ID)
		}
		return nil
	})
	if err != nil {
		ex.logger.Println("E! activation walk failed:", err)
	}
	ex.logger.Println("I! pipeline started")
}

func (ex *Executor) addNode(c AddNode) (pipeline.NodeID, error) {
	if c.Kind == pipeline.Source {
		return pipeline.InvalidNodeID, &pipeline.NodeError{
			NodeID:  ex.sourceID,
			Message: "the source node is owned by the pipeline",
		}
	}

	var (
		id   pipeline.NodeID
		impl Node
	)
	if c.Kind == pipeline.Custom {
		factory, ok := ex.custom[c.CustomType]
		if !ok {
			return pipeline.InvalidNodeID, errors.Errorf("unknown custom node type %q", c.CustomType)
		}
		n, ports, err := factory(c.Label)
		if err != nil {
			return pipeline.InvalidNodeID, errors.Wrap(err, "custom node factory")
		}
		id = ex.graph.AddNode(pipeline.Custom, c.Label, ports)
		impl = n
	} else {
		id = ex.graph.AddNode(c.Kind, c.Label, nil)
		name := c.Label
		if name == "" {
			name = fmt.Sprintf("%s%d", c.Kind, uint32(id))
		}
		switch c.Kind {
		case pipeline.Filter:
			impl = newFilterNode(name)
		case pipeline.Script:
			impl = newScriptNode(name, ex.engine)
		case pipeline.UIBroadcast:
			impl = newUIBroadcastNode(name)
		case pipeline.GraphPane:
			impl = newGraphPaneNode(name)
		case pipeline.Recorder:
			impl = newRecorderNode(name)
		case pipeline.Exporter:
			impl = newExporterNode(name)
		default:
			_, _ = ex.graph.RemoveNode(id)
			return pipeline.InvalidNodeID, errors.Errorf("unknown node kind %v", c.Kind)
		}
	}

	ex.impls[id] = impl
	ex.outPackets[id] = &edge.DataPacket{}
	ex.outEvents[id] = &edge.EventRing{}
	ex.dirty = true
	if ex.state == stateActive {
		ex.activateNode(id)
	}
	return id, nil
}

func (ex *Executor) removeNode(id pipeline.NodeID) error {
	if id == ex.sourceID {
		return &pipeline.NodeError{NodeID: id, Message: "cannot remove the source node"}
	}
	if ex.graph.Node(id) == nil {
		return &pipeline.NodeError{NodeID: id, Message: "no such node"}
	}
	ex.deactivateNode(id)
	removed, err := ex.graph.RemoveNode(id)
	if err != nil {
		return err
	}
	for _, eid := range removed {
		delete(ex.edgePackets, eid)
		delete(ex.edgeEvents, eid)
	}
	delete(ex.impls, id)
	delete(ex.outPackets, id)
	delete(ex.outEvents, id)
	delete(ex.activated, id)
	ex.dirty = true
	return nil
}

func (ex *Executor) connect(src, dst pipeline.PortID) (pipeline.EdgeID, error) {
	eid, err := ex.graph.Connect(src, dst)
	if err != nil {
		return pipeline.InvalidEdgeID, err
	}
	// The edge's packet is allocated once here and reused forever.
	ex.edgePackets[eid] = &edge.DataPacket{}
	ex.edgeEvents[eid] = &edge.EventRing{}
	ex.dirty = true
	return eid, nil
}

func (ex *Executor) disconnect(eid pipeline.EdgeID) error {
	if err := ex.graph.Disconnect(eid); err != nil {
		return err
	}
	delete(ex.edgePackets, eid)
	delete(ex.edgeEvents, eid)
	ex.dirty = true
	return nil
}

func (ex *Executor) setConfig(c SetConfig) error {
	info := ex.graph.Node(c.Node)
	if info == nil {
		return &pipeline.NodeError{NodeID: c.Node, Message: "no such node"}
	}
	info.Config[c.Key] = c.Value
	ctx := ex.nodeContext(c.Node, 0)
	ex.impls[c.Node].OnConfigChange(c.Key, c.Value, ctx)
	return nil
}

func (ex *Executor) setActive(id pipeline.NodeID, active bool) error {
	info := ex.graph.Node(id)
	if info == nil {
		return &pipeline.NodeError{NodeID: id, Message: "no such node"}
	}
	info.Active = active
	if ex.state == stateActive {
		if active {
			ex.activateNode(id)
		} else {
			ex.deactivateNode(id)
		}
	}
	return nil
}

// tick runs one evaluation pass over the graph.
func (ex *Executor) tick(tickTime time.Time) {
	ex.statMap.Add(statTicks, 1)
	now := tickTime.Sub(ex.zero).Nanoseconds()

	if ex.dirty {
		order, err := ex.graph.Order()
		if err != nil {
			// Connect refuses cycles, so this means table corruption.
			ex.logger.Println("E! order recompute failed:", err)
			return
		}
		ex.order = order
		ex.dirty = false
	}

	for _, id := range ex.order {
		out := ex.outPackets[id]
		outEv := ex.outEvents[id]
		out.Clear()
		outEv.Clear()

		info := ex.graph.Node(id)
		if info == nil || !info.Active || !ex.activated[id] {
			// An inactive node propagates emptiness downstream.
			ex.propagate(id, out, outEv)
			continue
		}

		ctx := ex.nodeContext(id, now)
		ex.safeOnData(ex.impls[id], ctx)
		ex.propagate(id, out, outEv)
	}

	if ex.lastSnapshot.IsZero() || tickTime.Sub(ex.lastSnapshot) >= ex.snapshotEvery {
		if ex.bridge.trySink(Topology{Snapshot: ex.snapshot()}) {
			ex.lastSnapshot = tickTime
		}
	}
}

// nodeContext assembles the borrow-style view a node callback gets.
func (ex *Executor) nodeContext(id pipeline.NodeID, now int64) *NodeContext {
	ctx := &NodeContext{
		Input:        &ex.emptyPacket,
		Output:       ex.outPackets[id],
		InputEvents:  &ex.emptyEvents,
		OutputEvents: ex.outEvents[id],
		Vars:         ex.vars,
		Now:          now,
		Send:         ex.bridge.trySink,
	}
	if in := ex.inputEdge(id); in != nil {
		ctx.Input = ex.edgePackets[in.ID]
		ctx.InputEvents = ex.edgeEvents[in.ID]
	}
	return ctx
}

// inputEdge finds the edge feeding the node's (single) data input port.
func (ex *Executor) inputEdge(id pipeline.NodeID) *pipeline.EdgeInfo {
	info := ex.graph.Node(id)
	if info == nil {
		return nil
	}
	for i, p := range info.Ports {
		if p.Direction == pipeline.Input && p.Kind == pipeline.DataStream {
			return ex.graph.EdgeInto(pipeline.NewPortID(id, uint16(i)))
		}
	}
	return nil
}

// propagate copies a node's output buffers onto each of its out edges.
func (ex *Executor) propagate(id pipeline.NodeID, out *edge.DataPacket, outEv *edge.EventRing) {
	for _, e := range ex.graph.OutEdges(id) {
		ex.edgePackets[e.ID].CopyFrom(out)
		ex.edgeEvents[e.ID].CopyFrom(outEv)
	}
}

// safeOnData isolates the tick from a panicking node.
func (ex *Executor) safeOnData(n Node, ctx *NodeContext) {
	defer func() {
		if r := recover(); r != nil {
			trace := make([]byte, 512)
			c := runtime.Stack(trace, false)
			ex.logger.Printf("E! node %s panicked in OnData: %v\n%s", n.Name(), r, trace[:c])
		}
	}()
	n.OnData(ctx)
}

func (ex *Executor) activateNode(id pipeline.NodeID) {
	if ex.activated[id] {
		return
	}
	impl, ok := ex.impls[id]
	if !ok {
		return
	}
	impl.OnActivate(ex.nodeContext(id, 0))
	ex.activated[id] = true
}

func (ex *Executor) deactivateNode(id pipeline.NodeID) {
	if !ex.activated[id] {
		return
	}
	ex.impls[id].OnDeactivate(ex.nodeContext(id, 0))
	ex.activated[id] = false
}

// deactivateAll deactivates in reverse execution order so sinks see their
// upstreams' last output before shutting down.
func (ex *Executor) deactivateAll() {
	for i := len(ex.order) - 1; i >= 0; i-- {
		ex.deactivateNode(ex.order[i])
	}
	// Nodes added since the last order recompute.
	for id := range ex.activated {
		ex.deactivateNode(id)
	}
}

// snapshot builds an immutable copy of the graph and variable tree.
func (ex *Executor) snapshot() TopologySnapshot {
	var snap TopologySnapshot
	_ = ex.graph.Walk(func(info *pipeline.NodeInfo) error {
		cfg := make(map[string]pipeline.ConfigValue, len(info.Config))
		for k, v := range info.Config {
			cfg[k] = v
		}
		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			ID:     info.ID,
			Kind:   info.Kind,
			Label:  info.Label,
			Active: info.Active,
			Config: cfg,
		})
		return nil
	})
	_ = ex.graph.Edges(func(e *pipeline.EdgeInfo) error {
		snap.Edges = append(snap.Edges, EdgeSnapshot{ID: e.ID, Src: e.Src, Dst: e.Dst})
		return nil
	})
	snap.Variables = ex.vars.Snapshot()
	return snap
}

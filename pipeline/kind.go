package pipeline

import "fmt"

// Kind tags a node with its builtin behavior.
type Kind int

const (
	Source Kind = iota
	Filter
	Script
	UIBroadcast
	GraphPane
	Recorder
	Exporter
	// Custom marks a plugin node supplied through the AnyNode extension
	// point. Its port table comes from the plugin itself.
	Custom
)

var sourcePorts = []PortDescriptor{
	OutPort("out", DataStream),
}

var transformPorts = []PortDescriptor{
	InPort("in", DataStream),
	OutPort("out", DataStream),
}

var sinkPorts = []PortDescriptor{
	InPort("in", DataStream),
}

// Ports returns the static port table for the kind. Custom kinds have no
// static table.
func (k Kind) Ports() []PortDescriptor {
	switch k {
	case Source:
		return sourcePorts
	case Filter, Script:
		return transformPorts
	case UIBroadcast, GraphPane, Recorder, Exporter:
		return sinkPorts
	default:
		return nil
	}
}

func (k Kind) String() string {
	switch k {
	case Source:
		return "source"
	case Filter:
		return "filter"
	case Script:
		return "script"
	case UIBroadcast:
		return "ui_broadcast"
	case GraphPane:
		return "graph_pane"
	case Recorder:
		return "recorder"
	case Exporter:
		return "exporter"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// DisplayName is the user-facing name shown by editors.
func (k Kind) DisplayName() string {
	switch k {
	case Source:
		return "Probe Source"
	case Filter:
		return "Filter"
	case Script:
		return "Script"
	case UIBroadcast:
		return "UI Broadcast Sink"
	case GraphPane:
		return "Graph Sink"
	case Recorder:
		return "Recorder Sink"
	case Exporter:
		return "Exporter Sink"
	case Custom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Description returns editor help text for the kind.
func (k Kind) Description() string {
	switch k {
	case Source:
		return "Polls the hardware probe for samples.\nInterns variables on first sight.\nOne source drives the whole pipeline."
	case Filter:
		return "Filters data by variable ID.\nAllows only listed variables to pass through.\nSupports invert mode to block instead of allow."
	case Script:
		return "Runs a script on each sample.\nTransform values using user code.\nHas built-in lowpass/highpass filters."
	case UIBroadcast:
		return "Broadcasts data to all UI panes.\nUpdates variable browser and live views.\nUse a graph sink for specific panes."
	case GraphPane:
		return "Routes data to a specific graph pane.\nConfigure pane_id to link a pane.\nSupports multiple independent graphs."
	case Recorder:
		return "Records data to session buffers.\nCaptures timestamped samples for playback.\nConfigure sample rate and max frames."
	case Exporter:
		return "Exports data to CSV/JSON files.\nContinuous file writing during collection.\nChoose wide or long format layout."
	default:
		return ""
	}
}

// AllKinds lists the kinds that can be created dynamically through the
// bridge. Source is excluded; the executor owns the single source node.
func AllKinds() []Kind {
	return []Kind{Filter, Script, UIBroadcast, GraphPane, Recorder, Exporter}
}

// IsSink reports whether nodes of this kind terminate the data flow.
func (k Kind) IsSink() bool {
	switch k {
	case UIBroadcast, GraphPane, Recorder, Exporter:
		return true
	}
	return false
}

// IsTransform reports whether nodes of this kind pass data through.
func (k Kind) IsTransform() bool {
	return k == Filter || k == Script
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "source":
		*k = Source
	case "filter":
		*k = Filter
	case "script":
		*k = Script
	case "ui_broadcast", "variable_sink": // variable_sink kept for old project files
		*k = UIBroadcast
	case "graph_pane":
		*k = GraphPane
	case "recorder":
		*k = Recorder
	case "exporter":
		*k = Exporter
	case "custom":
		*k = Custom
	default:
		return fmt.Errorf("unknown node kind %s", string(text))
	}
	return nil
}

package pipeline

// PortKind is the type of data flowing through a port.
type PortKind int

const (
	// DataStream ports carry sample packets tick by tick.
	DataStream PortKind = iota
	// Event ports carry discrete events. Today events piggyback on the
	// DataStream packet; the kind exists so a node may declare a separate
	// event port later without changing the wire model.
	Event
	// Config ports carry infrequent values and are never evaluated on the
	// hot path.
	Config
)

func (k PortKind) String() string {
	switch k {
	case DataStream:
		return "stream"
	case Event:
		return "event"
	case Config:
		return "config"
	default:
		return "unknown PortKind"
	}
}

// PortDirection marks a port as an input or output.
type PortDirection int

const (
	Input PortDirection = iota
	Output
)

func (d PortDirection) String() string {
	switch d {
	case Input:
		return "in"
	case Output:
		return "out"
	default:
		return "unknown PortDirection"
	}
}

// PortDescriptor statically declares one port of a node kind. The graph
// validates every connection against these tables.
type PortDescriptor struct {
	Name      string
	Direction PortDirection
	Kind      PortKind
}

// InPort declares an input port.
func InPort(name string, kind PortKind) PortDescriptor {
	return PortDescriptor{Name: name, Direction: Input, Kind: kind}
}

// OutPort declares an output port.
func OutPort(name string, kind PortKind) PortDescriptor {
	return PortDescriptor{Name: name, Direction: Output, Kind: kind}
}

// Package probe defines the contract between the pipeline's source node
// and the hardware probe driver. The driver itself lives outside the core;
// the pipeline only ever polls it.
package probe

import "github.com/hxyulin/datavis/vartree"

// Reading is one polled value. A reading either carries a value or an
// error for the named variable; an errored reading never aborts the poll.
type Reading struct {
	// Name of the variable. Parent, when non-empty, is the path of the
	// enclosing group from the root.
	Name   string
	Parent []string

	Type vartree.VarType

	// Addr is the variable's address on the target, when known.
	Addr    uint64
	HasAddr bool

	Raw       int64
	Converted float64

	// Err is set when this variable failed to read. Raw/Converted are
	// meaningless then.
	Err error
}

// Probe is the driver interface the source node polls once per tick.
//
// Poll is called with the current tick timestamp (monotonic nanoseconds
// since pipeline start) and must be bounded-time and non-blocking; drivers
// that talk to slow hardware buffer internally and return what is
// available.
type Probe interface {
	Open() error
	Poll(now int64) ([]Reading, error)
	Close() error
}

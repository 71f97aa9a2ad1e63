// Package script defines the evaluator contract used by the pipeline's
// script transform node, plus the built-in helper programs.
//
// The pipeline treats the engine as opaque: it hands over source text once
// and then evaluates sample by sample. Engines must not block; evaluation
// happens on the pipeline worker's hot path.
package script

import (
	"strings"

	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
)

// Program is a compiled script. Eval transforms one sample; keep=false
// drops the sample from the output without error.
type Program interface {
	Eval(s edge.Sample, now int64) (out edge.Sample, keep bool, err error)
}

// Engine compiles source text into programs.
type Engine interface {
	Compile(name, src string) (Program, error)
}

// Well-known program names resolved without an engine.
const (
	BuiltinLowpass  = "builtin:lowpass"
	BuiltinHighpass = "builtin:highpass"
)

// IsBuiltin reports whether name refers to a built-in program.
func IsBuiltin(name string) bool {
	return strings.HasPrefix(name, "builtin:")
}

// NewBuiltin instantiates a built-in program by name.
func NewBuiltin(name string, alpha float64) (Program, error) {
	switch name {
	case BuiltinLowpass:
		return NewLowpass(alpha), nil
	case BuiltinHighpass:
		return NewHighpass(alpha), nil
	default:
		return nil, &pipeline.ScriptError{Message: "unknown builtin " + name}
	}
}

// Lowpass is a first-order IIR lowpass, one state cell per variable.
type Lowpass struct {
	alpha float64
	state map[pipeline.VarID]float64
}

func NewLowpass(alpha float64) *Lowpass {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	return &Lowpass{alpha: alpha, state: make(map[pipeline.VarID]float64)}
}

func (l *Lowpass) Eval(s edge.Sample, now int64) (edge.Sample, bool, error) {
	y, ok := l.state[s.VarID]
	if !ok {
		y = s.Converted
	}
	y += l.alpha * (s.Converted - y)
	l.state[s.VarID] = y
	s.Converted = y
	return s, true, nil
}

// Highpass is a first-order highpass, one state pair per variable.
type Highpass struct {
	alpha float64
	prevX map[pipeline.VarID]float64
	prevY map[pipeline.VarID]float64
}

func NewHighpass(alpha float64) *Highpass {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.9
	}
	return &Highpass{
		alpha: alpha,
		prevX: make(map[pipeline.VarID]float64),
		prevY: make(map[pipeline.VarID]float64),
	}
}

func (h *Highpass) Eval(s edge.Sample, now int64) (edge.Sample, bool, error) {
	x := s.Converted
	px, ok := h.prevX[s.VarID]
	if !ok {
		// First sample: settle with zero output.
		h.prevX[s.VarID] = x
		h.prevY[s.VarID] = 0
		s.Converted = 0
		return s, true, nil
	}
	y := h.alpha * (h.prevY[s.VarID] + x - px)
	h.prevX[s.VarID] = x
	h.prevY[s.VarID] = y
	s.Converted = y
	return s, true, nil
}

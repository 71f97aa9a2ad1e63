package script

import (
	"github.com/dop251/goja"
	"github.com/hxyulin/datavis/edge"
	"github.com/hxyulin/datavis/pipeline"
)

// GojaEngine evaluates user scripts with the goja ECMAScript interpreter.
//
// The script sees the globals raw (int), converted (float), var_id (int)
// and ts (nanoseconds). After the script runs, the engine reads back
// converted and raw (the transformed values) and keep (set keep=false to
// drop the sample). Programs keep their VM between calls, so scripts may hold state
// in their own globals.
type GojaEngine struct{}

func NewGojaEngine() *GojaEngine { return &GojaEngine{} }

func (e *GojaEngine) Compile(name, src string) (Program, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, &pipeline.ScriptError{Message: err.Error()}
	}
	return &gojaProgram{vm: goja.New(), prog: prog}, nil
}

type gojaProgram struct {
	vm   *goja.Runtime
	prog *goja.Program
}

func (p *gojaProgram) Eval(s edge.Sample, now int64) (edge.Sample, bool, error) {
	p.vm.Set("raw", s.Raw)
	p.vm.Set("converted", s.Converted)
	p.vm.Set("var_id", int64(s.VarID))
	p.vm.Set("ts", now)
	p.vm.Set("keep", true)

	if _, err := p.vm.RunProgram(p.prog); err != nil {
		return s, false, &pipeline.ScriptError{Message: err.Error()}
	}

	if v := p.vm.Get("keep"); v != nil && !goja.IsUndefined(v) && !v.ToBoolean() {
		return s, false, nil
	}
	if v := p.vm.Get("converted"); v != nil && !goja.IsUndefined(v) {
		s.Converted = v.ToFloat()
	}
	if v := p.vm.Get("raw"); v != nil && !goja.IsUndefined(v) {
		s.Raw = v.ToInteger()
	}
	return s, true, nil
}

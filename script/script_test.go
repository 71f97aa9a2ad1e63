package script

import (
	"math"
	"testing"

	"github.com/hxyulin/datavis/edge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowpassConverges(t *testing.T) {
	lp := NewLowpass(0.5)
	var out edge.Sample
	for i := 0; i < 64; i++ {
		out, _, _ = lp.Eval(edge.Sample{VarID: 0, Converted: 1.0}, int64(i))
	}
	assert.InDelta(t, 1.0, out.Converted, 1e-6)
}

func TestLowpassFirstSampleSeedsState(t *testing.T) {
	lp := NewLowpass(0.1)
	out, keep, err := lp.Eval(edge.Sample{VarID: 3, Converted: 5.0}, 0)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, 5.0, out.Converted)
}

func TestLowpassStatePerVariable(t *testing.T) {
	lp := NewLowpass(0.5)
	lp.Eval(edge.Sample{VarID: 0, Converted: 10}, 0)
	out, _, _ := lp.Eval(edge.Sample{VarID: 1, Converted: -10}, 0)
	// Variable 1 starts from its own seed, untouched by variable 0.
	assert.Equal(t, -10.0, out.Converted)
}

func TestHighpassBlocksDC(t *testing.T) {
	hp := NewHighpass(0.9)
	var out edge.Sample
	for i := 0; i < 256; i++ {
		out, _, _ = hp.Eval(edge.Sample{VarID: 0, Converted: 3.0}, int64(i))
	}
	assert.InDelta(t, 0.0, out.Converted, 1e-6)
}

func TestNewBuiltinNames(t *testing.T) {
	_, err := NewBuiltin(BuiltinLowpass, 0.2)
	require.NoError(t, err)
	_, err = NewBuiltin(BuiltinHighpass, 0.8)
	require.NoError(t, err)
	_, err = NewBuiltin("builtin:nope", 0.5)
	assert.Error(t, err)

	assert.True(t, IsBuiltin(BuiltinLowpass))
	assert.False(t, IsBuiltin("converted = raw * 2"))
}

func TestGojaTransform(t *testing.T) {
	eng := NewGojaEngine()
	prog, err := eng.Compile("double", "converted = converted * 2")
	require.NoError(t, err)

	out, keep, err := prog.Eval(edge.Sample{VarID: 1, Raw: 3, Converted: 1.5}, 42)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, 3.0, out.Converted)
	assert.Equal(t, int64(3), out.Raw)
}

func TestGojaDropSample(t *testing.T) {
	eng := NewGojaEngine()
	prog, err := eng.Compile("gate", "keep = converted >= 0")
	require.NoError(t, err)

	_, keep, err := prog.Eval(edge.Sample{Converted: -1}, 0)
	require.NoError(t, err)
	assert.False(t, keep)

	_, keep, err = prog.Eval(edge.Sample{Converted: 1}, 0)
	require.NoError(t, err)
	assert.True(t, keep)
}

func TestGojaSeesGlobals(t *testing.T) {
	eng := NewGojaEngine()
	prog, err := eng.Compile("probe", "converted = var_id + ts + raw")
	require.NoError(t, err)
	out, _, err := prog.Eval(edge.Sample{VarID: 2, Raw: 10, Converted: 0}, 30)
	require.NoError(t, err)
	assert.Equal(t, 42.0, out.Converted)
}

func TestGojaCompileError(t *testing.T) {
	eng := NewGojaEngine()
	_, err := eng.Compile("bad", "this is not javascript ((")
	assert.Error(t, err)
}

func TestGojaRuntimeError(t *testing.T) {
	eng := NewGojaEngine()
	prog, err := eng.Compile("boom", "throw new Error('nope')")
	require.NoError(t, err)
	_, _, err = prog.Eval(edge.Sample{}, 0)
	assert.Error(t, err)
}

func TestGojaKeepsStateBetweenCalls(t *testing.T) {
	eng := NewGojaEngine()
	prog, err := eng.Compile("acc", `
		if (typeof total === 'undefined') { total = 0 }
		total += converted
		converted = total
	`)
	require.NoError(t, err)
	var out edge.Sample
	for i := 0; i < 4; i++ {
		out, _, _ = prog.Eval(edge.Sample{Converted: 1}, int64(i))
	}
	assert.InDelta(t, 4.0, out.Converted, math.SmallestNonzeroFloat64)
}

package probe

import (
	"math"
	"testing"
)

func TestSimLifecycle(t *testing.T) {
	s := NewSim(SimChannel{Name: "c", Waveform: Const, Offset: 5})
	if _, err := s.Poll(0); err == nil {
		t.Error("expected poll before open to fail")
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err == nil {
		t.Error("expected double open to fail")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	// Reopen after close is allowed.
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
}

func TestSimWaveforms(t *testing.T) {
	s := NewSim(
		SimChannel{Name: "sine", Waveform: Sine, Frequency: 1, Amplitude: 2},
		SimChannel{Name: "ramp", Waveform: Ramp, Slope: 4, Offset: 1},
		SimChannel{Name: "const", Waveform: Const, Offset: 7},
		SimChannel{Name: "bad", Waveform: Failing},
	)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}

	// Quarter period of a 1 Hz sine.
	readings, err := s.Poll(250_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 4 {
		t.Fatalf("expected 4 readings got %d", len(readings))
	}
	if math.Abs(readings[0].Converted-2) > 1e-9 {
		t.Errorf("sine at peak: got %v", readings[0].Converted)
	}
	if math.Abs(readings[1].Converted-2) > 1e-9 {
		t.Errorf("ramp at 0.25s: got %v", readings[1].Converted)
	}
	if readings[2].Converted != 7 {
		t.Errorf("const: got %v", readings[2].Converted)
	}
	if readings[3].Err == nil {
		t.Error("failing channel returned no error")
	}
}

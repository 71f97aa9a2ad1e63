package probe

import (
	"math"
	"sync"

	"github.com/hxyulin/datavis/vartree"
	"github.com/pkg/errors"
)

// Waveform selects what a simulated channel emits.
type Waveform int

const (
	Sine Waveform = iota
	Ramp
	Const
	// Failing channels return an errored reading on every poll. Used to
	// exercise the VariableError path end to end.
	Failing
)

// SimChannel describes one simulated variable.
type SimChannel struct {
	Name      string
	Waveform  Waveform
	Frequency float64 // Hz, for Sine
	Amplitude float64
	Offset    float64
	Slope     float64 // units/second, for Ramp
}

// Sim is an in-process probe that synthesizes readings. It stands in for
// real hardware in tests and in the demo daemon.
type Sim struct {
	mu       sync.Mutex
	channels []SimChannel
	open     bool
}

func NewSim(channels ...SimChannel) *Sim {
	return &Sim{channels: channels}
}

func (s *Sim) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return errors.New("sim probe already open")
	}
	s.open = true
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *Sim) Poll(now int64) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, errors.New("sim probe not open")
	}
	t := float64(now) / float64(1e9)
	readings := make([]Reading, 0, len(s.channels))
	for _, c := range s.channels {
		r := Reading{Name: c.Name, Type: vartree.TypeF64}
		switch c.Waveform {
		case Sine:
			r.Converted = c.Offset + c.Amplitude*math.Sin(2*math.Pi*c.Frequency*t)
		case Ramp:
			r.Converted = c.Offset + c.Slope*t
		case Const:
			r.Converted = c.Offset
		case Failing:
			r.Err = errors.Errorf("simulated read failure for %s", c.Name)
			readings = append(readings, r)
			continue
		}
		r.Raw = int64(math.Round(r.Converted))
		readings = append(readings, r)
	}
	return readings, nil
}

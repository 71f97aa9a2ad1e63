// Package server assembles the pipeline worker, the simulated or real
// probe, and the demo pipeline into a runnable daemon.
package server

import (
	"log"
	"os"
	"sync"
	"time"

	datavis "github.com/hxyulin/datavis"
	"github.com/hxyulin/datavis/pipeline"
	"github.com/hxyulin/datavis/probe"
	"github.com/hxyulin/datavis/script"
	"github.com/influxdata/wlog"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const setupTimeout = 5 * time.Second

// Server owns the worker goroutine and the bridge to it.
type Server struct {
	config *Config
	bridge *datavis.Bridge
	ex     *datavis.Executor
	logger *log.Logger

	wg      sync.WaitGroup
	runErr  error
	drained sync.WaitGroup
}

// New builds a server from a validated config.
func New(c *Config) (*Server, error) {
	if c.Logging.File != "" {
		datavis.SetLogOutput(&lumberjack.Logger{
			Filename: c.Logging.File,
			MaxSize:  c.Logging.MaxSizeMB,
		})
	}
	if c.Logging.Level != "" {
		if err := wlog.SetLevelFromName(c.Logging.Level); err != nil {
			return nil, errors.Wrap(err, "invalid log level")
		}
	}

	channels := make([]probe.SimChannel, 0, len(c.Sim))
	for _, sc := range c.Sim {
		ch := probe.SimChannel{
			Name:      sc.Name,
			Frequency: sc.Frequency,
			Amplitude: sc.Amplitude,
			Offset:    sc.Offset,
			Slope:     sc.Slope,
		}
		switch sc.Waveform {
		case "sine":
			ch.Waveform = probe.Sine
		case "ramp":
			ch.Waveform = probe.Ramp
		case "const":
			ch.Waveform = probe.Const
		case "failing":
			ch.Waveform = probe.Failing
		}
		channels = append(channels, ch)
	}

	bridge := datavis.NewBridge(c.CommandBuffer, c.SinkBuffer, c.ReplyBuffer)
	ex, err := datavis.NewBuilder(bridge).
		WithProbe(probe.NewSim(channels...)).
		WithScriptEngine(script.NewGojaEngine()).
		WithTickInterval(time.Duration(c.TickInterval)).
		Build()
	if err != nil {
		return nil, err
	}

	return &Server{
		config: c,
		bridge: bridge,
		ex:     ex,
		logger: wlog.New(os.Stderr, "[srv] ", log.LstdFlags),
	}, nil
}

// Open starts the worker, builds the demo pipeline and activates it.
func (s *Server) Open() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runErr = s.ex.Run()
	}()

	if err := s.setupPipeline(); err != nil {
		return err
	}

	// Keep the sink channel flowing; the daemon has no UI attached, so
	// data batches are discarded and read errors logged.
	s.drained.Add(1)
	go func() {
		defer s.drained.Done()
		for m := range s.bridge.Sink {
			if re, ok := m.(datavis.ReadError); ok {
				s.logger.Printf("W! read error on variable %d: %s", re.VariableID, re.Error)
			}
		}
	}()
	return nil
}

// Close shuts the worker down and waits for it.
func (s *Server) Close() error {
	_ = s.bridge.Submit(datavis.Shutdown{CommandBase: datavis.NewCommandBase()})
	s.wg.Wait()
	s.drained.Wait()
	return s.runErr
}

// setupPipeline wires source -> broadcast sink, plus an exporter when
// configured, and starts the pipeline.
func (s *Server) setupPipeline() error {
	srcOut := pipeline.NewPortID(s.ex.SourceID(), 0)

	res, err := s.do(datavis.AddNode{
		CommandBase: datavis.NewCommandBase(),
		Kind:        pipeline.UIBroadcast,
		Label:       "broadcast",
	})
	if err != nil {
		return err
	}
	if _, err := s.do(datavis.Connect{
		CommandBase: datavis.NewCommandBase(),
		Src:         srcOut,
		Dst:         pipeline.NewPortID(res.Node, 0),
	}); err != nil {
		return err
	}

	if s.config.Export.Path != "" {
		eres, err := s.do(datavis.AddNode{
			CommandBase: datavis.NewCommandBase(),
			Kind:        pipeline.Exporter,
			Label:       "export",
		})
		if err != nil {
			return err
		}
		for key, val := range map[string]string{
			"path":   s.config.Export.Path,
			"format": s.config.Export.Format,
			"layout": s.config.Export.Layout,
		} {
			if val == "" {
				continue
			}
			if _, err := s.do(datavis.SetConfig{
				CommandBase: datavis.NewCommandBase(),
				Node:        eres.Node,
				Key:         key,
				Value:       pipeline.StringValue(val),
			}); err != nil {
				return err
			}
		}
		if _, err := s.do(datavis.Connect{
			CommandBase: datavis.NewCommandBase(),
			Src:         srcOut,
			Dst:         pipeline.NewPortID(eres.Node, 0),
		}); err != nil {
			return err
		}
	}

	_, err = s.do(datavis.Start{CommandBase: datavis.NewCommandBase()})
	return err
}

// do submits a command and waits for its result.
func (s *Server) do(cmd datavis.Command) (datavis.CommandResult, error) {
	if err := s.bridge.Submit(cmd); err != nil {
		return datavis.CommandResult{}, err
	}
	deadline := time.After(setupTimeout)
	for {
		select {
		case res, ok := <-s.bridge.Replies:
			if !ok {
				return datavis.CommandResult{}, pipeline.ErrChannelRecv
			}
			if res.CorrelationID != cmd.Correlation() {
				continue
			}
			return res, res.Err
		case <-deadline:
			return datavis.CommandResult{}, errors.New("timed out waiting for command result")
		}
	}
}

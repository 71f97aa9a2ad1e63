package server

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "1ms" or "5s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// LoggingConfig controls the daemon's log output.
type LoggingConfig struct {
	// File receives the log stream when set; stderr otherwise. Rotated at
	// MaxSizeMB.
	File      string `toml:"file"`
	Level     string `toml:"level"`
	MaxSizeMB int    `toml:"max-size-mb"`
}

// SimChannelConfig describes one channel of the simulated probe.
type SimChannelConfig struct {
	Name      string  `toml:"name"`
	Waveform  string  `toml:"waveform"`
	Frequency float64 `toml:"frequency"`
	Amplitude float64 `toml:"amplitude"`
	Offset    float64 `toml:"offset"`
	Slope     float64 `toml:"slope"`
}

// ExportConfig pre-configures the demo pipeline's exporter sink. Empty
// path disables it.
type ExportConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"`
	Layout string `toml:"layout"`
}

// Config is the daemon configuration, decoded from a TOML file.
type Config struct {
	TickInterval  Duration `toml:"tick-interval"`
	CommandBuffer int      `toml:"command-buffer"`
	SinkBuffer    int      `toml:"sink-buffer"`
	ReplyBuffer   int      `toml:"reply-buffer"`

	Logging LoggingConfig      `toml:"logging"`
	Sim     []SimChannelConfig `toml:"sim"`
	Export  ExportConfig       `toml:"export"`
}

// NewConfig returns a config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		TickInterval: Duration(time.Millisecond),
		Logging:      LoggingConfig{Level: "INFO", MaxSizeMB: 100},
	}
}

// NewDemoConfig returns a config that runs standalone with a simulated
// probe emitting a 1 Hz sine wave and a ramp.
func NewDemoConfig() *Config {
	c := NewConfig()
	c.Sim = []SimChannelConfig{
		{Name: "sine", Waveform: "sine", Frequency: 1, Amplitude: 1},
		{Name: "ramp", Waveform: "ramp", Slope: 0.5},
	}
	return c
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) {
	c := NewConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.New("tick-interval must be positive")
	}
	switch c.Logging.Level {
	case "", "DEBUG", "INFO", "WARN", "ERROR", "OFF":
	default:
		return errors.Errorf("invalid log level %q", c.Logging.Level)
	}
	for i, s := range c.Sim {
		if s.Name == "" {
			return errors.Errorf("sim channel %d has no name", i)
		}
		switch s.Waveform {
		case "sine", "ramp", "const", "failing":
		default:
			return errors.Errorf("sim channel %q has unknown waveform %q", s.Name, s.Waveform)
		}
	}
	if c.Export.Path != "" {
		switch c.Export.Format {
		case "", "csv", "json":
		default:
			return errors.Errorf("invalid export format %q", c.Export.Format)
		}
		switch c.Export.Layout {
		case "", "wide", "long":
		default:
			return errors.Errorf("invalid export layout %q", c.Export.Layout)
		}
	}
	return nil
}

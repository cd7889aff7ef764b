// Package config loads voltpipe configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/layout"
)

// Prefix of all environment variables.
const Prefix = "VOLTPIPE"

type (
	// Config holds all pipe configuration.
	Config struct {
		Ring      RingConfig
		Geometry  GeometryConfig
		Generator GeneratorConfig
		Writer    WriterConfig
		Log       LogConfig
	}

	// RingConfig holds shared ring buffers configuration.
	RingConfig struct {
		Dir      string        `split_words:"true" default:"/dev/shm"`
		InputKey string        `split_words:"true" default:"voltpipe_input"`
		StripKey string        `split_words:"true" default:"voltpipe_strip"`
		Blocks   int           `split_words:"true" default:"4"`
		Timeout  time.Duration `split_words:"true" default:"250ms"`
		Wait     string        `split_words:"true" default:"blocking"`
	}

	// GeometryConfig holds axis sizes of blocks.
	GeometryConfig struct {
		Antennas      int `split_words:"true" default:"192"`
		Pols          int `split_words:"true" default:"2"`
		Chans         int `split_words:"true" default:"384"`
		StripChans    int `split_words:"true" default:"8"`
		TimePerBlock  int `split_words:"true" default:"32"`
		TimePerPacket int `split_words:"true" default:"2"`
	}

	// GeneratorConfig holds generator configuration.
	GeneratorConfig struct {
		Interval time.Duration `split_words:"true" default:"1s"`
		Limit    int           `split_words:"true" default:"0"`
	}

	// WriterConfig holds output files configuration.
	WriterConfig struct {
		Dir           string `split_words:"true" default:"."`
		Prefix        string `split_words:"true" default:"hera_volt_data"`
		BlocksPerFile int    `split_words:"true" default:"4096"`
		Archive       bool   `split_words:"true" default:"false"`
		Quicklook     bool   `split_words:"true" default:"false"`
	}

	// LogConfig holds logging configuration.
	LogConfig struct {
		Level string `split_words:"true" default:"info"`
	}
)

// Load loads configuration from environment variables. Variable names are
// built from the field path, e.g. VOLTPIPE_RING_BLOCKS or
// VOLTPIPE_WRITER_BLOCKS_PER_FILE.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	g := layout.Default()
	return &Config{
		Ring: RingConfig{
			Dir:      "/dev/shm",
			InputKey: "voltpipe_input",
			StripKey: "voltpipe_strip",
			Blocks:   4,
			Timeout:  databuf.DefaultTimeout,
			Wait:     databuf.Blocking.String(),
		},
		Geometry: GeometryConfig{
			Antennas:      g.Antennas,
			Pols:          g.Pols,
			Chans:         g.Chans,
			StripChans:    g.StripChans,
			TimePerBlock:  g.TimePerBlock,
			TimePerPacket: g.TimePerPacket,
		},
		Generator: GeneratorConfig{
			Interval: time.Second,
		},
		Writer: WriterConfig{
			Dir:           ".",
			Prefix:        "hera_volt_data",
			BlocksPerFile: 4096,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that configuration can be used to run the pipe.
func (c *Config) Validate() error {
	if err := c.Layout().Validate(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	switch {
	case c.Ring.Blocks <= 0 || c.Ring.Blocks > 64:
		return fmt.Errorf("invalid number of ring blocks: %d", c.Ring.Blocks)
	case c.Writer.BlocksPerFile <= 0:
		return fmt.Errorf("invalid number of blocks per file: %d", c.Writer.BlocksPerFile)
	case c.Generator.Limit < 0:
		return fmt.Errorf("invalid generator limit: %d", c.Generator.Limit)
	}
	return nil
}

// Layout returns block geometry.
func (c *Config) Layout() layout.Geometry {
	return layout.Geometry{
		Antennas:      c.Geometry.Antennas,
		Pols:          c.Geometry.Pols,
		Chans:         c.Geometry.Chans,
		StripChans:    c.Geometry.StripChans,
		TimePerBlock:  c.Geometry.TimePerBlock,
		TimePerPacket: c.Geometry.TimePerPacket,
	}
}

// Strategy returns ring wait strategy.
func (c *Config) Strategy() (databuf.Strategy, error) {
	return databuf.ParseStrategy(c.Ring.Wait)
}

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/voltpipe/config"
	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/layout"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, layout.Default(), cfg.Layout())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("VOLTPIPE_RING_BLOCKS", "8")
	t.Setenv("VOLTPIPE_RING_TIMEOUT", "1s")
	t.Setenv("VOLTPIPE_RING_WAIT", "spin")
	t.Setenv("VOLTPIPE_GEOMETRY_ANTENNAS", "2")
	t.Setenv("VOLTPIPE_WRITER_BLOCKS_PER_FILE", "32")
	t.Setenv("VOLTPIPE_WRITER_ARCHIVE", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Ring.Blocks)
	assert.Equal(t, time.Second, cfg.Ring.Timeout)
	assert.Equal(t, 2, cfg.Layout().Antennas)
	assert.Equal(t, 32, cfg.Writer.BlocksPerFile)
	assert.True(t, cfg.Writer.Archive)
	s, err := cfg.Strategy()
	assert.NoError(t, err)
	assert.Equal(t, databuf.Spin, s)
}

func TestLoadInvalid(t *testing.T) {
	var tests = []struct {
		key   string
		value string
	}{
		{"VOLTPIPE_RING_BLOCKS", "65"},
		{"VOLTPIPE_RING_BLOCKS", "many"},
		{"VOLTPIPE_RING_WAIT", "sleep"},
		{"VOLTPIPE_GEOMETRY_STRIP_CHANS", "1000"},
		{"VOLTPIPE_WRITER_BLOCKS_PER_FILE", "0"},
		{"VOLTPIPE_GENERATOR_LIMIT", "-1"},
	}
	for _, test := range tests {
		t.Run(test.key+"="+test.value, func(t *testing.T) {
			t.Setenv(test.key, test.value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/voltpipe/layout"
	"pipelined.dev/voltpipe/voltfile"
	"pipelined.dev/voltpipe/writer"
)

func execute(args ...string) (int, string) {
	var out bytes.Buffer
	c := app{
		args: append([]string{"voltpipe"}, args...),
		out:  &out,
	}
	return c.run(), out.String()
}

func TestUsage(t *testing.T) {
	code, out := execute()
	assert.Equal(t, errorExitCode, code)
	for _, cmd := range commands() {
		assert.Contains(t, out, cmd.Name())
	}

	code, _ = execute("unknown")
	assert.Equal(t, errorExitCode, code)
	code, _ = execute("inspect", "-bogus")
	assert.Equal(t, errorExitCode, code)
}

func TestStages(t *testing.T) {
	code, out := execute("stages")
	assert.Equal(t, successExitCode, code)
	assert.Equal(t, "generator\nstrip\nwriter\n", out)
	assert.Equal(t, []string{"generator", "strip", "writer"}, splitStages(defaultStages))
	assert.Equal(t, []string{"strip"}, splitStages(" strip, "))
}

func TestInspect(t *testing.T) {
	g := layout.Geometry{Antennas: 2, Pols: 2, Chans: 4, StripChans: 2, TimePerBlock: 2, TimePerPacket: 1}
	path := filepath.Join(t.TempDir(), "test"+writer.Ext)
	vf, err := voltfile.Create(path, writer.Header(g, 4), 4)
	require.NoError(t, err)
	require.NoError(t, vf.WriteTime(0, 1000))
	require.NoError(t, vf.WriteTime(1, 2000))
	require.NoError(t, vf.Close())

	code, out := execute("inspect", "-file", path)
	require.Equal(t, successExitCode, code, out)
	assert.Contains(t, out, "written: 2/4 blocks")
	assert.Contains(t, out, "time: 1000..2000 millisec")

	archived, err := writer.Archive(path)
	require.NoError(t, err)
	code, out = execute("inspect", "-file", archived)
	require.Equal(t, successExitCode, code, out)
	assert.Contains(t, out, "data: [2 2 2 8]")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// file next to the archive is left alone.
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))
	code, out = execute("inspect", "-file", archived)
	require.Equal(t, successExitCode, code, out)
	assert.Contains(t, out, "written: 2/4 blocks")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), b)
	_, err = writer.Unarchive(archived)
	assert.True(t, errors.Is(err, os.ErrExist))

	code, out = execute("inspect")
	assert.Equal(t, errorExitCode, code)
	assert.True(t, strings.HasPrefix(out, "Command failed"))
}

func TestRun(t *testing.T) {
	rings, files := t.TempDir(), t.TempDir()
	for k, v := range map[string]string{
		"VOLTPIPE_RING_DIR":                rings,
		"VOLTPIPE_RING_TIMEOUT":            "5ms",
		"VOLTPIPE_GEOMETRY_ANTENNAS":       "2",
		"VOLTPIPE_GEOMETRY_CHANS":          "4",
		"VOLTPIPE_GEOMETRY_STRIP_CHANS":    "2",
		"VOLTPIPE_GEOMETRY_TIME_PER_BLOCK": "2",
		"VOLTPIPE_GENERATOR_INTERVAL":      "1ms",
		"VOLTPIPE_WRITER_BLOCKS_PER_FILE":  "2",
		"VOLTPIPE_LOG_LEVEL":               "warn",
	} {
		t.Setenv(k, v)
	}

	code, out := execute("run", "-limit", "3", "-dir", files, "-duration", "300ms", "-destroy")
	require.Equal(t, successExitCode, code, out)
	assert.Contains(t, out, "WRITESTAT=done")
	assert.Contains(t, out, "STRPMCNT=")

	entries, err := os.ReadDir(files)
	require.NoError(t, err)
	assert.Equal(t, 2, len(entries))
	// rings are removed.
	entries, err = os.ReadDir(rings)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// without destroy rings stay for other processes.
	code, out = execute("run", "-stages", "strip", "-duration", "20ms")
	require.Equal(t, successExitCode, code, out)
	entries, err = os.ReadDir(rings)
	require.NoError(t, err)
	assert.Equal(t, 2, len(entries))
}

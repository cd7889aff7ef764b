package quicklook_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/voltpipe/layout"
	"pipelined.dev/voltpipe/quicklook"
)

var g = layout.Geometry{Antennas: 2, Pols: 2, Chans: 4, StripChans: 2, TimePerBlock: 4, TimePerPacket: 2}

func TestNibbles(t *testing.T) {
	var tests = []struct {
		b    byte
		re   int
		imag int
	}{
		{0x00, 0, 0},
		{0x17, 1, 7},
		{0x7f, 7, -1},
		{0x88, -8, -8},
		{0xf1, -1, 1},
	}
	for _, test := range tests {
		assert.Equal(t, test.re, quicklook.Real(test.b), "real %#x", test.b)
		assert.Equal(t, test.imag, quicklook.Imag(test.b), "imag %#x", test.b)
	}
}

func TestSink(t *testing.T) {
	l := layout.NewStrip(g)
	path := filepath.Join(t.TempDir(), "ql.wav")
	s, err := quicklook.NewSink(path, l, quicklook.Selector{Antenna: 1, Pol: 0, Chan: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	payload := make([]byte, l.Size())
	row := l.Row(1, 0, 1)
	for i := 0; i < g.TimePerBlock; i++ {
		payload[row+i] = byte(i) << 4
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(payload))
	}
	assert.Error(t, s.Write(payload[1:]))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	d := wav.NewDecoder(f)
	require.True(t, d.IsValidFile())
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, quicklook.DefaultSampleRate, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)
	assert.Equal(t, 3*g.TimePerBlock, len(buf.Data))
	assert.Equal(t, []int{0, 1 << 12, 2 << 12, 3 << 12}, buf.Data[:4])
}

func TestSinkNoWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ql.wav")
	s, err := quicklook.NewSink(path, layout.NewStrip(g), quicklook.Selector{}, 0)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSelector(t *testing.T) {
	for _, sel := range []quicklook.Selector{
		{Antenna: 2},
		{Pol: -1},
		{Chan: 2},
	} {
		_, err := quicklook.NewSink("", layout.NewStrip(g), sel, 0)
		assert.True(t, errors.Is(err, quicklook.ErrSelector), "%+v", sel)
	}
}

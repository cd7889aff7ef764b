// Package quicklook writes one channel of recorded voltages as audio so the
// signal can be listened to or opened in any audio tool.
package quicklook

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/voltpipe/layout"
)

const (
	// DefaultSampleRate matches the 250/8192 MHz channel width.
	DefaultSampleRate = 30518
	bitDepth          = 16
	pcmFormat         = 1
	numChannels       = 1
)

// ErrSelector is returned when selected row is not in the layout.
var ErrSelector = errors.New("selected row is out of layout")

type (
	// Selector picks the row of strip block.
	Selector struct {
		Antenna int
		Pol     int
		Chan    int
	}

	// Sink saves selected row of strip blocks to wav file.
	Sink struct {
		path       string
		sampleRate int
		layout     layout.Strip
		row        int
		file       *os.File
		encoder    *wav.Encoder
		ib         *audio.IntBuffer
	}
)

// NewSink creates new quicklook sink. File is created on first write.
func NewSink(path string, l layout.Strip, sel Selector, sampleRate int) (*Sink, error) {
	g := l.Geometry()
	if sel.Antenna < 0 || sel.Antenna >= g.Antennas ||
		sel.Pol < 0 || sel.Pol >= g.Pols ||
		sel.Chan < 0 || sel.Chan >= g.StripChans {
		return nil, fmt.Errorf("%w: %+v", ErrSelector, sel)
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Sink{
		path:       path,
		sampleRate: sampleRate,
		layout:     l,
		row:        l.Row(sel.Antenna, sel.Pol, sel.Chan),
	}, nil
}

// Path returns path of the wav file.
func (s *Sink) Path() string {
	return s.path
}

// Write appends selected row of strip block payload.
func (s *Sink) Write(payload []byte) error {
	if len(payload) != s.layout.Size() {
		return fmt.Errorf("quicklook: payload of %d bytes, expected %d", len(payload), s.layout.Size())
	}
	if s.encoder == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	n := s.layout.Geometry().TimePerBlock
	for i, b := range payload[s.row : s.row+n] {
		s.ib.Data[i] = Real(b) << 12
	}
	return s.encoder.Write(s.ib)
}

func (s *Sink) open() error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	s.file = f
	s.encoder = wav.NewEncoder(f, s.sampleRate, bitDepth, numChannels, pcmFormat)
	s.ib = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: numChannels,
			SampleRate:  s.sampleRate,
		},
		Data:           make([]int, s.layout.Geometry().TimePerBlock),
		SourceBitDepth: bitDepth,
	}
	return nil
}

// Close finalizes wav header and closes the file. Sink without writes
// doesn't create a file.
func (s *Sink) Close() error {
	if s.encoder == nil {
		return nil
	}
	err := s.encoder.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.encoder, s.file = nil, nil
	return err
}

// Real decodes the real component of the sample. It's stored as 4 bit
// two's complement in the high nibble.
func Real(b byte) int {
	return int(int8(b) >> 4)
}

// Imag decodes the imaginary component of the sample stored in the low
// nibble.
func Imag(b byte) int {
	return int(int8(b<<4) >> 4)
}

// Package layout describes how a block payload maps onto the logical axes
// of correlator data: mcnt within block (m), antenna (a), polarization (p),
// channel (c) and time sample within packet (t).
//
// Two layouts exist. Input is what the network receiver produces:
//
//	m -> a -> c -> t -> p
//
// Strip is what the stripper produces for the writer. It keeps only the
// first StripChans channels and reorders the axes:
//
//	a -> p -> c -> m -> t
//
// Both are byte granular: one element is one byte holding two 4 bit
// complex components.
package layout

import (
	"errors"
	"fmt"
)

type (
	// Geometry holds the axis sizes of correlator blocks.
	Geometry struct {
		Antennas      int // Na
		Pols          int // Np
		Chans         int // Nc, channels per X engine
		StripChans    int // Nsc, channels kept by the stripper
		TimePerBlock  int // time samples per block
		TimePerPacket int // Nt, time samples per packet
	}

	// Layout maps logical coordinates to payload byte offsets.
	Layout interface {
		Geometry() Geometry
		Size() int
		Offset(m, a, p, c, t int) int
	}

	// Input is the receiver block layout.
	Input struct {
		g Geometry
	}

	// Strip is the stripper block layout.
	Strip struct {
		g Geometry
	}
)

// ErrInvalidGeometry is returned when geometry cannot describe a block.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Default returns geometry of the HERA correlator.
func Default() Geometry {
	return Geometry{
		Antennas:      192,
		Pols:          2,
		Chans:         384,
		StripChans:    8,
		TimePerBlock:  32,
		TimePerPacket: 2,
	}
}

// Validate checks that all axes are usable.
func (g Geometry) Validate() error {
	switch {
	case g.Antennas <= 0, g.Pols <= 0, g.Chans <= 0, g.StripChans <= 0,
		g.TimePerBlock <= 0, g.TimePerPacket <= 0:
		return fmt.Errorf("%w: all sizes must be positive: %+v", ErrInvalidGeometry, g)
	case g.StripChans > g.Chans:
		return fmt.Errorf("%w: %d strip channels out of %d", ErrInvalidGeometry, g.StripChans, g.Chans)
	case g.TimePerBlock%g.TimePerPacket != 0:
		return fmt.Errorf("%w: %d time samples per block is not a multiple of %d per packet",
			ErrInvalidGeometry, g.TimePerBlock, g.TimePerPacket)
	}
	return nil
}

// Mcnts returns number of mcnts in one block. This is the stride of block
// mcnt values.
func (g Geometry) Mcnts() int {
	return g.TimePerBlock / g.TimePerPacket
}

// NewInput returns input layout for provided geometry.
func NewInput(g Geometry) Input {
	return Input{g: g}
}

// Geometry returns layout geometry.
func (l Input) Geometry() Geometry {
	return l.g
}

// Size of input block payload in bytes.
func (l Input) Size() int {
	return l.g.Mcnts() * l.g.Antennas * l.g.Chans * l.g.TimePerPacket * l.g.Pols
}

// Offset of the element in input block payload.
func (l Input) Offset(m, a, p, c, t int) int {
	na, nc, nt, np := l.g.Antennas, l.g.Chans, l.g.TimePerPacket, l.g.Pols
	return m*na*nc*nt*np + a*nc*nt*np + c*nt*np + t*np + p
}

// NewStrip returns strip layout for provided geometry.
func NewStrip(g Geometry) Strip {
	return Strip{g: g}
}

// Geometry returns layout geometry.
func (l Strip) Geometry() Geometry {
	return l.g
}

// Size of strip block payload in bytes.
func (l Strip) Size() int {
	return l.g.Antennas * l.g.Pols * l.g.StripChans * l.g.Mcnts() * l.g.TimePerPacket
}

// Offset of the element in strip block payload. Channel must be less than
// StripChans.
func (l Strip) Offset(m, a, p, c, t int) int {
	nsc, nm, nt, np := l.g.StripChans, l.g.Mcnts(), l.g.TimePerPacket, l.g.Pols
	return a*nsc*nm*nt*np + p*nsc*nm*nt + c*nm*nt + m*nt + t
}

// Coords is the inverse of Offset.
func (l Strip) Coords(offset int) (m, a, p, c, t int) {
	nsc, nm, nt, np := l.g.StripChans, l.g.Mcnts(), l.g.TimePerPacket, l.g.Pols
	t = offset % nt
	offset /= nt
	m = offset % nm
	offset /= nm
	c = offset % nsc
	offset /= nsc
	p = offset % np
	a = offset / np
	return
}

// Rows returns number of (a, p, c) rows in strip payload. Every row holds
// TimePerBlock contiguous samples ordered by time.
func (l Strip) Rows() int {
	return l.g.Antennas * l.g.Pols * l.g.StripChans
}

// Row returns payload offset of the first sample of (a, p, c) row.
func (l Strip) Row(a, p, c int) int {
	return l.Offset(0, a, p, c, 0)
}

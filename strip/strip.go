// Package strip keeps the first channels of input blocks and reorders
// them for the writer.
package strip

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"pipelined.dev/voltpipe"
	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/layout"
	"pipelined.dev/voltpipe/log"
	"pipelined.dev/voltpipe/metric"
	"pipelined.dev/voltpipe/status"
)

// Status keys.
const (
	StatusKey   = "STRPSTAT"
	BlockInKey  = "STRPBKIN"
	BlockOutKey = "STRPBKOUT"
	McntKey     = "STRPMCNT"
)

// ErrGeometry is returned when input and strip rings have different
// geometry.
var ErrGeometry = errors.New("input and strip geometry mismatch")

// Stripper moves blocks from input ring to strip ring.
type Stripper struct {
	in       *databuf.Ring[layout.Input]
	out      *databuf.Ring[layout.Strip]
	strategy databuf.Strategy
	status   *status.Registry
	meter    *metric.Meter
	log      logrus.FieldLogger

	inBlock  int
	outBlock int
	mcnt     uint64
}

// New returns stripper between provided rings.
func New(in *databuf.Ring[layout.Input], out *databuf.Ring[layout.Strip], s databuf.Strategy) (*Stripper, error) {
	if in.Layout().Geometry() != out.Layout().Geometry() {
		return nil, fmt.Errorf("%w: %+v and %+v", ErrGeometry, in.Layout().Geometry(), out.Layout().Geometry())
	}
	return &Stripper{
		in:       in,
		out:      out,
		strategy: s,
		log:      log.GetLogger(),
	}, nil
}

// Allocator returns the stripper allocator.
func Allocator() voltpipe.Allocator {
	return func(env voltpipe.Env) (voltpipe.Stage, error) {
		if env.Rings == nil || env.Rings.Input == nil || env.Rings.Strip == nil {
			return nil, errors.New("strip requires input and strip rings")
		}
		s, err := New(env.Rings.Input, env.Rings.Strip, env.Rings.Strategy)
		if err != nil {
			return nil, err
		}
		s.status = env.Status
		s.meter = env.Meter
		if env.Logger != nil {
			s.log = env.Logger
		}
		return s, nil
	}
}

// Strip copies every element of the first StripChans channels from input
// payload to strip payload.
func Strip(in []byte, inL layout.Input, out []byte, outL layout.Strip) {
	g := inL.Geometry()
	for m := 0; m < g.Mcnts(); m++ {
		for a := 0; a < g.Antennas; a++ {
			for c := 0; c < g.StripChans; c++ {
				for t := 0; t < g.TimePerPacket; t++ {
					for p := 0; p < g.Pols; p++ {
						out[outL.Offset(m, a, p, c, t)] = in[inL.Offset(m, a, p, c, t)]
					}
				}
			}
		}
	}
}

// Start logs the rings.
func (s *Stripper) Start(context.Context) error {
	s.log.WithFields(logrus.Fields{
		"in":  s.in.Path(),
		"out": s.out.Path(),
	}).Debug("strip started")
	return nil
}

// Execute strips one block. It returns io.EOF when context is done.
func (s *Stripper) Execute(ctx context.Context) error {
	s.status.Update(func(b status.Buffer) {
		b.PutInt(BlockInKey, int64(s.inBlock))
		b.PutString(StatusKey, "waiting")
		b.PutInt(BlockOutKey, int64(s.outBlock))
		b.PutUint(McntKey, s.mcnt)
	})

	if err := s.in.Await(ctx, s.inBlock, databuf.Filled, s.strategy, s.blocked); err != nil {
		return s.stop(ctx, err)
	}
	// output slot is owned by the writer until it's free.
	if err := s.out.Await(ctx, s.outBlock, databuf.Free, s.strategy, s.blocked); err != nil {
		return s.stop(ctx, err)
	}
	s.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "stripping")
	})

	in, out := s.in.Block(s.inBlock), s.out.Block(s.outBlock)
	s.mcnt = in.Header().Mcnt
	out.SetHeader(databuf.Header{GoodData: true, Mcnt: s.mcnt})
	Strip(in.Data, s.in.Layout(), out.Data, s.out.Layout())

	if err := s.out.SetFilled(s.outBlock); err != nil {
		return err
	}
	if err := s.in.SetFree(s.inBlock); err != nil {
		return err
	}
	s.meter.Block(len(out.Data))
	s.log.WithFields(logrus.Fields{
		"in":   s.inBlock,
		"out":  s.outBlock,
		"mcnt": s.mcnt,
	}).Debug("block stripped")

	s.inBlock = (s.inBlock + 1) % s.in.NumBlocks()
	s.outBlock = (s.outBlock + 1) % s.out.NumBlocks()
	return nil
}

// Flush reports the stripper state.
func (s *Stripper) Flush(context.Context) error {
	s.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "done")
	})
	return nil
}

func (s *Stripper) stop(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return io.EOF
	}
	return err
}

func (s *Stripper) blocked() {
	s.meter.Blocked()
	s.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "blocked")
	})
}

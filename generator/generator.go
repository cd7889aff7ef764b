// Package generator produces synthetic input blocks. It stands in for the
// network receiver.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

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
	StatusKey   = "FAKESTAT"
	BlockOutKey = "FAKEBKOUT"
	McntKey     = "FAKEMCNT"
)

type (
	// Config of the generator.
	Config struct {
		// Interval between blocks.
		Interval time.Duration
		// Limit of produced blocks, zero means no limit.
		Limit int
	}

	// Generator fills input ring blocks with the pattern.
	Generator struct {
		Config
		ring     *databuf.Ring[layout.Input]
		strategy databuf.Strategy
		status   *status.Registry
		meter    *metric.Meter
		log      logrus.FieldLogger

		// antenna payload of every mcnt.
		pattern  [][]byte
		block    int
		mcnt     uint64
		produced int
	}
)

// Pattern returns the value of element produced for antenna a and
// polarization p.
func Pattern(a, p int) byte {
	return uint8(a*2 + p)
}

// New returns generator that fills provided ring.
func New(ring *databuf.Ring[layout.Input], s databuf.Strategy, cfg Config) *Generator {
	return &Generator{
		Config:   cfg,
		ring:     ring,
		strategy: s,
		log:      log.GetLogger(),
	}
}

// Allocator returns the generator allocator.
func Allocator(cfg Config) voltpipe.Allocator {
	return func(env voltpipe.Env) (voltpipe.Stage, error) {
		if env.Rings == nil || env.Rings.Input == nil {
			return nil, errors.New("generator requires input ring")
		}
		if cfg.Limit < 0 || cfg.Interval < 0 {
			return nil, fmt.Errorf("invalid generator config: %+v", cfg)
		}
		g := New(env.Rings.Input, env.Rings.Strategy, cfg)
		g.status = env.Status
		g.meter = env.Meter
		if env.Logger != nil {
			g.log = env.Logger
		}
		return g, nil
	}
}

// Start builds the pattern.
func (g *Generator) Start(context.Context) error {
	l := g.ring.Layout()
	geom := l.Geometry()
	g.pattern = make([][]byte, geom.Antennas)
	for a := range g.pattern {
		base := l.Offset(0, a, 0, 0, 0)
		row := make([]byte, geom.Chans*geom.TimePerPacket*geom.Pols)
		for c := 0; c < geom.Chans; c++ {
			for t := 0; t < geom.TimePerPacket; t++ {
				for p := 0; p < geom.Pols; p++ {
					row[l.Offset(0, a, p, c, t)-base] = Pattern(a, p)
				}
			}
		}
		g.pattern[a] = row
	}
	g.log.WithFields(logrus.Fields{
		"blocks":   g.ring.NumBlocks(),
		"interval": g.Interval,
		"limit":    g.Limit,
	}).Debug("generator started")
	return nil
}

// Execute produces one block. It returns io.EOF when limit is reached or
// context is done.
func (g *Generator) Execute(ctx context.Context) error {
	if g.Limit > 0 && g.produced >= g.Limit {
		return io.EOF
	}
	g.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "waiting")
		b.PutInt(BlockOutKey, int64(g.block))
		b.PutUint(McntKey, g.mcnt)
	})
	if g.Interval > 0 {
		select {
		case <-time.After(g.Interval):
		case <-ctx.Done():
			return io.EOF
		}
	}

	if err := g.ring.Await(ctx, g.block, databuf.Free, g.strategy, g.blocked); err != nil {
		if ctx.Err() != nil {
			return io.EOF
		}
		return err
	}
	g.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "receiving")
	})

	blk := g.ring.Block(g.block)
	blk.SetHeader(databuf.Header{GoodData: true, Mcnt: g.mcnt})
	l := g.ring.Layout()
	for m := 0; m < l.Geometry().Mcnts(); m++ {
		for a, row := range g.pattern {
			copy(blk.Data[l.Offset(m, a, 0, 0, 0):], row)
		}
	}
	if err := g.ring.SetFilled(g.block); err != nil {
		return err
	}
	g.meter.Block(len(blk.Data))
	g.log.WithFields(logrus.Fields{"block": g.block, "mcnt": g.mcnt}).Debug("block filled")

	g.mcnt += uint64(l.Geometry().Mcnts())
	g.block = (g.block + 1) % g.ring.NumBlocks()
	g.produced++
	return nil
}

// Flush reports the generator state.
func (g *Generator) Flush(context.Context) error {
	g.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "done")
	})
	g.log.WithField("blocks", g.produced).Debug("generator done")
	return nil
}

func (g *Generator) blocked() {
	g.meter.Blocked()
	g.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "blocked")
	})
}

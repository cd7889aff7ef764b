package voltpipe

import (
	"fmt"

	"pipelined.dev/voltpipe/config"
	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/layout"
)

// Rings are the shared ring buffers that connect the stages.
type Rings struct {
	Input    *databuf.Ring[layout.Input]
	Strip    *databuf.Ring[layout.Strip]
	Strategy databuf.Strategy
}

// CreateRings attaches to both rings of provided geometry. Rings that
// don't exist yet are created, so the first process creates them and
// others share them. Existing rings must have the same shape.
func CreateRings(c config.RingConfig, g layout.Geometry) (*Rings, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	s, err := databuf.ParseStrategy(c.Wait)
	if err != nil {
		return nil, err
	}
	in, err := createRing(c, c.InputKey, layout.NewInput(g))
	if err != nil {
		return nil, fmt.Errorf("error attaching input ring: %w", err)
	}
	strip, err := createRing(c, c.StripKey, layout.NewStrip(g))
	if err != nil {
		_ = in.Detach()
		return nil, fmt.Errorf("error attaching strip ring: %w", err)
	}
	return &Rings{
		Input:    in,
		Strip:    strip,
		Strategy: s,
	}, nil
}

func createRing[L layout.Layout](c config.RingConfig, key string, l L) (*databuf.Ring[L], error) {
	r, err := databuf.CreateOrAttach(c.Dir, key, c.Blocks, l.Size())
	if err != nil {
		return nil, err
	}
	r.Timeout = c.Timeout
	ring, err := databuf.New(r, l)
	if err != nil {
		_ = r.Detach()
		return nil, err
	}
	return ring, nil
}

// Detach unmaps both rings. Rings stay available for other processes.
func (r *Rings) Detach() error {
	var errs execErrors
	if err := r.Input.Detach(); err != nil {
		errs = append(errs, fmt.Errorf("input ring: %w", err))
	}
	if err := r.Strip.Detach(); err != nil {
		errs = append(errs, fmt.Errorf("strip ring: %w", err))
	}
	return errs.ret()
}

// Destroy removes both rings. It's the explicit teardown, other processes
// keep their mappings but new ones can't attach.
func (r *Rings) Destroy() error {
	var errs execErrors
	if err := r.Input.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("input ring: %w", err))
	}
	if err := r.Strip.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("strip ring: %w", err))
	}
	return errs.ret()
}

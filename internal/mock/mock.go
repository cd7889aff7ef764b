// Package mock provides mocks for pipe stages and allows to execute
// integration tests.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"pipelined.dev/voltpipe"
	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/layout"
)

// Feeder fills blocks of the ring with Value.
type Feeder[L layout.Layout] struct {
	counter
	Ring        *databuf.Ring[L]
	Strategy    databuf.Strategy
	Interval    time.Duration
	Limit       int
	Value       byte
	ErrorOnCall error
	Hooks
}

// Execute fills the next block. It returns io.EOF when limit is reached or
// context is done.
func (m *Feeder[L]) Execute(ctx context.Context) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	if m.Blocks() >= m.Limit {
		return io.EOF
	}
	time.Sleep(m.Interval)

	id := m.Blocks() % m.Ring.NumBlocks()
	if err := await(ctx, m.Ring.Region, id, databuf.Free, m.Strategy); err != nil {
		return err
	}
	b := m.Ring.Block(id)
	for i := range b.Data {
		b.Data[i] = m.Value
	}
	b.SetHeader(databuf.Header{GoodData: true, Mcnt: uint64(m.Blocks())})
	if err := m.Ring.SetFilled(id); err != nil {
		return err
	}
	m.advance(len(b.Data))
	return nil
}

// Drain releases filled blocks of the ring. Unless Discard is set, copy of
// every block payload is kept.
type Drain[L layout.Layout] struct {
	counter
	Ring        *databuf.Ring[L]
	Strategy    databuf.Strategy
	Discard     bool
	ErrorOnCall error
	Hooks

	m       sync.Mutex
	payload [][]byte
	headers []databuf.Header
}

// Execute releases the next block. It returns io.EOF when context is
// done.
func (m *Drain[L]) Execute(ctx context.Context) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	id := m.Blocks() % m.Ring.NumBlocks()
	if err := await(ctx, m.Ring.Region, id, databuf.Filled, m.Strategy); err != nil {
		return err
	}
	b := m.Ring.Block(id)
	if !m.Discard {
		m.m.Lock()
		m.payload = append(m.payload, append([]byte(nil), b.Data...))
		m.headers = append(m.headers, b.Header())
		m.m.Unlock()
	}
	if err := m.Ring.SetFree(id); err != nil {
		return err
	}
	m.advance(len(b.Data))
	return nil
}

// Payload returns copies of drained blocks.
func (m *Drain[L]) Payload() [][]byte {
	m.m.Lock()
	defer m.m.Unlock()
	return m.payload
}

// Headers returns headers of drained blocks.
func (m *Drain[L]) Headers() []databuf.Header {
	m.m.Lock()
	defer m.m.Unlock()
	return m.headers
}

// Hooks allows to mock stage hooks.
type Hooks struct {
	m       sync.Mutex
	started bool
	flushed bool

	ErrorOnStart error
	ErrorOnFlush error
}

// Start implements voltpipe.Stage.
func (h *Hooks) Start(context.Context) error {
	h.m.Lock()
	defer h.m.Unlock()
	h.started = true
	return h.ErrorOnStart
}

// Flush implements voltpipe.Stage.
func (h *Hooks) Flush(context.Context) error {
	h.m.Lock()
	defer h.m.Unlock()
	h.flushed = true
	return h.ErrorOnFlush
}

// Started returns true if stage was started.
func (h *Hooks) Started() bool {
	h.m.Lock()
	defer h.m.Unlock()
	return h.started
}

// Flushed returns true if stage was flushed.
func (h *Hooks) Flushed() bool {
	h.m.Lock()
	defer h.m.Unlock()
	return h.flushed
}

// Allocator returns allocator of already created stage.
func Allocator(s voltpipe.Stage) voltpipe.Allocator {
	return func(voltpipe.Env) (voltpipe.Stage, error) {
		return s, nil
	}
}

// AllocatorError returns allocator that always fails.
func AllocatorError(err error) voltpipe.Allocator {
	return func(voltpipe.Env) (voltpipe.Stage, error) {
		return nil, err
	}
}

func await(ctx context.Context, r *databuf.Region, id int, want databuf.State, s databuf.Strategy) error {
	err := r.Await(ctx, id, want, s, nil)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return io.EOF
	}
	return err
}

// counter counts blocks and bytes.
type counter struct {
	m      sync.Mutex
	blocks int
	bytes  int
}

func (c *counter) advance(size int) {
	c.m.Lock()
	defer c.m.Unlock()
	c.blocks++
	c.bytes += size
}

// Blocks returns number of processed blocks.
func (c *counter) Blocks() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.blocks
}

// Bytes returns number of processed payload bytes.
func (c *counter) Bytes() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.bytes
}

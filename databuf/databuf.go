// Package databuf implements ring buffers of fixed size blocks in shared
// memory.
//
// Every block has its own occupancy state, either Free or Filled. The
// producer of a ring waits until the block is free, fills it and marks it
// filled. The consumer waits until the block is filled, reads it and marks
// it free. State transitions strictly alternate and act as the
// synchronization point: payload written before SetFilled is visible after
// a successful wait for Filled.
//
// Waits never block forever. When no transition happens within the region
// timeout, ErrTimeout is returned and the caller is expected to retry.
package databuf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"pipelined.dev/voltpipe/layout"
)

type (
	// State is the occupancy of a block.
	State uint32

	// Strategy defines how the wait is done.
	Strategy int

	// Header of every block.
	Header struct {
		GoodData bool
		Mcnt     uint64 // mcnt of the first packet
	}

	// Block is a view of block header and payload in shared memory.
	Block struct {
		header *blockHeader
		Data   []byte
	}

	// blockHeader is the shared memory representation of Header.
	blockHeader struct {
		goodData int64 // 64 bit to maintain word alignment
		mcnt     uint64
	}

	// Ring is a region whose block payloads follow the layout L.
	Ring[L layout.Layout] struct {
		*Region
		layout L
	}

	// WaitError is returned when wait failed with anything but timeout.
	// It is not recoverable.
	WaitError struct {
		Block int
		Want  State
		Err   error
	}
)

// Block states.
const (
	Free State = iota
	Filled
)

// Wait strategies.
const (
	// Blocking puts the caller to sleep until the state changes.
	Blocking Strategy = iota
	// Spin polls the state. Lower latency, but burns a cpu.
	Spin
)

var (
	// ErrTimeout is returned when wait did not succeed within timeout.
	ErrTimeout = errors.New("wait timeout")
	// ErrInvalidTransition is returned when block is set to the state it
	// already has.
	ErrInvalidTransition = errors.New("invalid block state transition")
	// ErrBlockID is returned for block ids out of range.
	ErrBlockID = errors.New("invalid block id")
	// ErrInvalidState is returned when state word holds unknown value.
	ErrInvalidState = errors.New("invalid block state")
	// ErrLayout is returned when layout doesn't fit the region.
	ErrLayout = errors.New("layout doesn't match region")
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Filled:
		return "filled"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

func (s Strategy) String() string {
	switch s {
	case Blocking:
		return "blocking"
	case Spin:
		return "spin"
	}
	return "unknown"
}

// ParseStrategy returns strategy for its name.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "blocking", "block", "":
		return Blocking, nil
	case "spin", "busy", "busywait":
		return Spin, nil
	}
	return Blocking, fmt.Errorf("unknown wait strategy: %q", s)
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("error waiting for %v block %d: %v", e.Want, e.Block, e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// New returns a ring over the region. Region block size must match the
// layout size.
func New[L layout.Layout](r *Region, l L) (*Ring[L], error) {
	if r.blockSize != l.Size() {
		return nil, fmt.Errorf("%w: block size %d, layout size %d", ErrLayout, r.blockSize, l.Size())
	}
	return &Ring[L]{
		Region: r,
		layout: l,
	}, nil
}

// Layout of block payloads.
func (r *Ring[L]) Layout() L {
	return r.layout
}

// Block returns the view of the block. It panics if id is out of range.
func (r *Region) Block(id int) Block {
	if id < 0 || id >= r.nBlock {
		panic(fmt.Sprintf("databuf: block %d out of range [0, %d)", id, r.nBlock))
	}
	off := r.headerSize + id*r.stride
	return Block{
		header: (*blockHeader)(unsafe.Pointer(&r.mem[off])),
		Data:   r.mem[off+blockHeaderSize : off+blockHeaderSize+r.blockSize : off+blockHeaderSize+r.blockSize],
	}
}

// Header returns a copy of block header.
func (b Block) Header() Header {
	return Header{
		GoodData: b.header.goodData != 0,
		Mcnt:     b.header.mcnt,
	}
}

// SetHeader updates block header.
func (b Block) SetHeader(h Header) {
	if h.GoodData {
		b.header.goodData = 1
	} else {
		b.header.goodData = 0
	}
	b.header.mcnt = h.Mcnt
}

// Wait until block id reaches the wanted state. ErrTimeout is returned if
// it didn't happen within region timeout, any other error is *WaitError.
func (r *Region) Wait(id int, want State, s Strategy) error {
	st, err := r.state(id)
	if err != nil {
		return &WaitError{Block: id, Want: want, Err: err}
	}
	deadline := time.Now().Add(r.timeout())
	for {
		cur := State(atomic.LoadUint32(st))
		if cur == want {
			return nil
		}
		if cur != Free && cur != Filled {
			return &WaitError{Block: id, Want: want, Err: fmt.Errorf("%w: %d", ErrInvalidState, cur)}
		}
		left := time.Until(deadline)
		if left <= 0 {
			return ErrTimeout
		}
		if s == Spin {
			cpuRelax()
			continue
		}
		if err := futexWait(st, uint32(cur), left); err != nil {
			return &WaitError{Block: id, Want: want, Err: err}
		}
	}
}

// Await waits until block reaches the wanted state, retrying on timeouts.
// Blocked is called after every timeout. Context is checked after every
// wake up, its error is returned when it's done.
func (r *Region) Await(ctx context.Context, id int, want State, s Strategy, blocked func()) error {
	for {
		err := r.Wait(id, want, s)
		if err != nil && !errors.Is(err, ErrTimeout) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			return nil
		}
		if blocked != nil {
			blocked()
		}
	}
}

// WaitFree blocks until block is free.
func (r *Region) WaitFree(id int) error {
	return r.Wait(id, Free, Blocking)
}

// WaitFilled blocks until block is filled.
func (r *Region) WaitFilled(id int) error {
	return r.Wait(id, Filled, Blocking)
}

// BusyWaitFree spins until block is free.
func (r *Region) BusyWaitFree(id int) error {
	return r.Wait(id, Free, Spin)
}

// BusyWaitFilled spins until block is filled.
func (r *Region) BusyWaitFilled(id int) error {
	return r.Wait(id, Filled, Spin)
}

// SetFree marks filled block as free and wakes up its waiters.
func (r *Region) SetFree(id int) error {
	return r.set(id, Filled, Free)
}

// SetFilled marks free block as filled and wakes up its waiters.
func (r *Region) SetFilled(id int) error {
	return r.set(id, Free, Filled)
}

func (r *Region) set(id int, from, to State) error {
	st, err := r.state(id)
	if err != nil {
		return err
	}
	if !atomic.CompareAndSwapUint32(st, uint32(from), uint32(to)) {
		return fmt.Errorf("%w: block %d is already %v", ErrInvalidTransition, id, State(atomic.LoadUint32(st)))
	}
	futexWake(st)
	return nil
}

// BlockStatus returns current state of the block.
func (r *Region) BlockStatus(id int) (State, error) {
	st, err := r.state(id)
	if err != nil {
		return Free, err
	}
	return State(atomic.LoadUint32(st)), nil
}

// TotalStatus returns number of filled blocks.
func (r *Region) TotalStatus() int {
	var n int
	for _, s := range r.Status() {
		if s == Filled {
			n++
		}
	}
	return n
}

// TotalMask returns bit mask of filled blocks, bit i is set if block i is
// filled.
func (r *Region) TotalMask() uint64 {
	var mask uint64
	for i, s := range r.Status() {
		if s == Filled {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Status returns snapshot of all block states. Nil is returned if region
// is detached.
func (r *Region) Status() []State {
	if r.mem == nil {
		return nil
	}
	states := make([]State, r.nBlock)
	for i := range states {
		states[i] = State(atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.mem[statesOffset+4*i]))))
	}
	return states
}

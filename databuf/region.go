package databuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region memory map. All offsets are multiples of cacheAlign so producer
// and consumer of different blocks never share a cache line.
//
//	+--------------------------------+ 0
//	| magic version nblock blocksize |
//	| attached                       |
//	+--------------------------------+ statesOffset
//	| state[0] ... state[nblock-1]   | uint32 occupancy/futex words
//	+--------------------------------+ headerSize
//	| block 0 header | payload       | stride
//	| block 1 header | payload       |
//	| ...                            |
//	+--------------------------------+
const (
	magic        uint64 = 0x4655424154414448 // "HDATABUF"
	version      uint64 = 1
	cacheAlign          = 128
	statesOffset        = 64

	offMagic     = 0
	offVersion   = 8
	offNBlock    = 16
	offBlockSize = 24
	offAttached  = 32

	// blockHeaderSize keeps the payload cache aligned.
	blockHeaderSize = cacheAlign

	// DefaultTimeout is how long blocking waits sleep before reporting
	// ErrTimeout.
	DefaultTimeout = 250 * time.Millisecond
)

var (
	// ErrAlloc is returned when shared region cannot be obtained.
	ErrAlloc = errors.New("shared region allocation failed")
	// ErrNotRegion is returned when attached file is not a data buffer.
	ErrNotRegion = errors.New("not a data buffer region")
	// ErrDetached is returned when region is used after detach.
	ErrDetached = errors.New("region detached")
)

// Region is a mapping of the shared memory segment with blocks. Every
// process or goroutine group that works with the same key gets its own
// Region value over the same memory.
type Region struct {
	// Timeout of blocking waits. DefaultTimeout is used if not set.
	Timeout time.Duration

	path       string
	mem        []byte
	nBlock     int
	blockSize  int
	headerSize int
	stride     int
}

func align(n int) int {
	return (n + cacheAlign - 1) &^ (cacheAlign - 1)
}

func regionSize(nBlock, blockSize int) (headerSize, stride, total int) {
	headerSize = align(statesOffset + 4*nBlock)
	stride = align(blockHeaderSize + blockSize)
	total = headerSize + nBlock*stride
	return
}

// Create allocates the shared region named key in dir and attaches to it.
// If region already exists, it is truncated and all blocks become free.
func Create(dir, key string, nBlock, blockSize int) (*Region, error) {
	return create(dir, key, nBlock, blockSize, os.O_TRUNC)
}

func create(dir, key string, nBlock, blockSize, flag int) (*Region, error) {
	if nBlock <= 0 || nBlock > 64 || blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d blocks of %d bytes", ErrAlloc, nBlock, blockSize)
	}
	headerSize, stride, total := regionSize(nBlock, blockSize)
	path := filepath.Join(dir, key)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|flag, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(total)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %v: %w", ErrAlloc, path, err)
	}
	binary.LittleEndian.PutUint64(mem[offVersion:], version)
	binary.LittleEndian.PutUint64(mem[offNBlock:], uint64(nBlock))
	binary.LittleEndian.PutUint64(mem[offBlockSize:], uint64(blockSize))
	r := &Region{
		path:       path,
		mem:        mem,
		nBlock:     nBlock,
		blockSize:  blockSize,
		headerSize: headerSize,
		stride:     stride,
	}
	// truncate zeroed the states, so all blocks are free already.
	atomic.StoreInt64(r.attached(), 1)
	// magic goes last, attachers must not see a half initialized header.
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&mem[offMagic])), magic)
	return r, nil
}

// Attach maps existing region named key in dir.
func Attach(dir, key string) (*Region, error) {
	path := filepath.Join(dir, key)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	if fi.Size() < statesOffset {
		return nil, fmt.Errorf("%w: %v is %d bytes", ErrNotRegion, path, fi.Size())
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %v: %w", ErrAlloc, path, err)
	}
	if atomic.LoadUint64((*uint64)(unsafe.Pointer(&mem[offMagic]))) != magic ||
		binary.LittleEndian.Uint64(mem[offVersion:]) != version {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("%w: %v", ErrNotRegion, path)
	}
	nBlock := int(binary.LittleEndian.Uint64(mem[offNBlock:]))
	blockSize := int(binary.LittleEndian.Uint64(mem[offBlockSize:]))
	headerSize, stride, total := regionSize(nBlock, blockSize)
	if total != len(mem) {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("%w: %v size %d, expected %d", ErrNotRegion, path, len(mem), total)
	}
	r := &Region{
		path:       path,
		mem:        mem,
		nBlock:     nBlock,
		blockSize:  blockSize,
		headerSize: headerSize,
		stride:     stride,
	}
	atomic.AddInt64(r.attached(), 1)
	return r, nil
}

// CreateOrAttach attaches to the region if it exists and has the requested
// shape. A new region is created only if the backing file doesn't exist,
// any other attach error is returned as is.
func CreateOrAttach(dir, key string, nBlock, blockSize int) (*Region, error) {
	r, err := Attach(dir, key)
	if errors.Is(err, os.ErrNotExist) {
		r, err = create(dir, key, nBlock, blockSize, os.O_EXCL)
		if !errors.Is(err, os.ErrExist) {
			return r, err
		}
		// lost the race to another creator.
		r, err = Attach(dir, key)
	}
	if err != nil {
		return nil, err
	}
	if r.nBlock != nBlock || r.blockSize != blockSize {
		_ = r.Detach()
		return nil, fmt.Errorf("%w: %v has %d blocks of %d bytes", ErrAlloc, r.path, r.nBlock, r.blockSize)
	}
	return r, nil
}

// Detach unmaps the region. Other users keep their mappings.
func (r *Region) Detach() error {
	if r.mem == nil {
		return ErrDetached
	}
	atomic.AddInt64(r.attached(), -1)
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

// Destroy detaches and removes the backing file. Existing mappings stay
// valid until detached.
func (r *Region) Destroy() error {
	if r.mem != nil {
		if err := r.Detach(); err != nil {
			return err
		}
	}
	return os.Remove(r.path)
}

// Attached returns number of current attachments. Zero is returned if
// region is detached.
func (r *Region) Attached() int64 {
	if r.mem == nil {
		return 0
	}
	return atomic.LoadInt64(r.attached())
}

// Path of the backing file.
func (r *Region) Path() string {
	return r.path
}

// NumBlocks returns number of blocks in the region.
func (r *Region) NumBlocks() int {
	return r.nBlock
}

// BlockSize returns payload size of every block.
func (r *Region) BlockSize() int {
	return r.blockSize
}

func (r *Region) attached() *int64 {
	return (*int64)(unsafe.Pointer(&r.mem[offAttached]))
}

func (r *Region) state(id int) (*uint32, error) {
	if r.mem == nil {
		return nil, ErrDetached
	}
	if id < 0 || id >= r.nBlock {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrBlockID, id, r.nBlock)
	}
	return (*uint32)(unsafe.Pointer(&r.mem[statesOffset+4*id])), nil
}

func (r *Region) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

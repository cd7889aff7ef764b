// Package voltfile implements the container of recorded voltage data.
//
// A file holds a fixed shape 4-D data array of bytes with axes
// [antenna, polarization, frequency, time] and a 1-D time vector with one
// millisecond timestamp per written block. Both are allocated zero filled
// at creation, so a file is valid at any moment and unwritten slices read
// as zeros.
//
// On disk:
//
//	+---------------------------------+ 0
//	| "VOLTFILE" | u32 len | TOML meta |
//	+---------------------------------+ page aligned data offset
//	| data, u8, row major [a][p][f][t]|
//	+---------------------------------+
//	| time, u64 big endian [blocks]   |
//	+---------------------------------+
package voltfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	magic    = "VOLTFILE"
	pageSize = 4096
	lenSize  = 4
)

var (
	// ErrNotVoltfile is returned when file has no valid preamble.
	ErrNotVoltfile = errors.New("not a voltfile")
	// ErrShape is returned when shape is invalid or data doesn't fit it.
	ErrShape = errors.New("invalid shape")
	// ErrIndex is returned when block index is out of range.
	ErrIndex = errors.New("block index out of range")
)

type (
	// Header is the header group of the file.
	Header struct {
		Nants     int64   `toml:"Nants"`
		NantsData int64   `toml:"Nants_data"`
		Nfreqs    int64   `toml:"Nfreqs"`
		Ntimes    int64   `toml:"Ntimes"`
		Npols     int64   `toml:"Npols"`
		ChanWidth float64 `toml:"chan_width"`
		TimeUnits string  `toml:"time_units"`
		AntArray  []int64 `toml:"ant_array"`
	}

	// Shape of the data and time datasets.
	Shape struct {
		Data   [4]int64 `toml:"data"` // Nants, Npols, Nfreqs, Ntimes
		Blocks int64    `toml:"time"`
	}

	meta struct {
		Header Header `toml:"header"`
		Shape  Shape  `toml:"shape"`
	}

	// File is an open voltfile.
	File struct {
		f          *os.File
		meta       meta
		dataOffset int64
		timeOffset int64
		blockTimes int64
	}
)

// Create creates the file with provided header and number of blocks,
// overwriting existing one. Data and time datasets are zero filled.
func Create(path string, h Header, blocks int) (*File, error) {
	m := meta{
		Header: h,
		Shape: Shape{
			Data:   [4]int64{h.Nants, h.Npols, h.Nfreqs, h.Ntimes},
			Blocks: int64(blocks),
		},
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	b, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error encoding header: %w", err)
	}
	preamble := make([]byte, len(magic)+lenSize, len(magic)+lenSize+len(b))
	copy(preamble, magic)
	binary.LittleEndian.PutUint32(preamble[len(magic):], uint32(len(b)))
	preamble = append(preamble, b...)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	vf := newFile(f, m, len(preamble))
	if _, err := f.WriteAt(preamble, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("error writing header: %w", err)
	}
	if err := f.Truncate(vf.size()); err != nil {
		f.Close()
		return nil, fmt.Errorf("error allocating datasets: %w", err)
	}
	return vf, nil
}

// Open opens existing file for reading.
func Open(path string) (*File, error) {
	return open(path, os.O_RDONLY)
}

// Reopen opens existing file for reading and writing.
func Reopen(path string) (*File, error) {
	return open(path, os.O_RDWR)
}

func open(path string, flag int) (*File, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	vf, err := readMeta(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return vf, nil
}

func readMeta(f *os.File) (*File, error) {
	pre := make([]byte, len(magic)+lenSize)
	if _, err := io.ReadFull(f, pre); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotVoltfile, err)
	}
	if string(pre[:len(magic)]) != magic {
		return nil, ErrNotVoltfile
	}
	n := binary.LittleEndian.Uint32(pre[len(magic):])
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if int64(n) > fi.Size()-int64(len(pre)) {
		return nil, fmt.Errorf("%w: header of %d bytes in %d bytes file", ErrNotVoltfile, n, fi.Size())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotVoltfile, err)
	}
	var m meta
	if err := toml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotVoltfile, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	vf := newFile(f, m, len(pre)+len(b))
	if fi.Size() != vf.size() {
		return nil, fmt.Errorf("%w: size %d, expected %d", ErrShape, fi.Size(), vf.size())
	}
	return vf, nil
}

func newFile(f *os.File, m meta, preamble int) *File {
	dataOffset := int64((preamble + pageSize - 1) / pageSize * pageSize)
	return &File{
		f:          f,
		meta:       m,
		dataOffset: dataOffset,
		timeOffset: dataOffset + m.Shape.dataSize(),
		blockTimes: m.Shape.Data[3] / m.Shape.Blocks,
	}
}

func (m meta) validate() error {
	for _, d := range m.Shape.Data {
		if d <= 0 {
			return fmt.Errorf("%w: data %v", ErrShape, m.Shape.Data)
		}
	}
	if m.Shape.Blocks <= 0 || m.Shape.Data[3]%m.Shape.Blocks != 0 {
		return fmt.Errorf("%w: %d times in %d blocks", ErrShape, m.Shape.Data[3], m.Shape.Blocks)
	}
	if n := len(m.Header.AntArray); n != 0 && int64(n) != m.Header.Nants {
		return fmt.Errorf("%w: %d antennas in array of %d", ErrShape, n, m.Header.Nants)
	}
	return nil
}

func (s Shape) dataSize() int64 {
	return s.Data[0] * s.Data[1] * s.Data[2] * s.Data[3]
}

func (vf *File) size() int64 {
	return vf.timeOffset + 8*vf.meta.Shape.Blocks
}

// Header returns the header group.
func (vf *File) Header() Header {
	return vf.meta.Header
}

// Shape returns shape of datasets.
func (vf *File) Shape() Shape {
	return vf.meta.Shape
}

// BlockSize returns size of block payload accepted by WriteBlock.
func (vf *File) BlockSize() int {
	s := vf.meta.Shape.Data
	return int(s[0] * s[1] * s[2] * vf.blockTimes)
}

// Name returns name of the file.
func (vf *File) Name() string {
	return vf.f.Name()
}

// WriteBlock writes the block payload into the data hyperslab starting at
// time index*blockTimes. Payload is row major [a][p][f][t] with
// blockTimes samples per row.
func (vf *File) WriteBlock(index int, payload []byte) error {
	if err := vf.checkIndex(index); err != nil {
		return err
	}
	if len(payload) != vf.BlockSize() {
		return fmt.Errorf("%w: block of %d bytes, expected %d", ErrShape, len(payload), vf.BlockSize())
	}
	ntimes := vf.meta.Shape.Data[3]
	rowOffset := vf.dataOffset + int64(index)*vf.blockTimes
	for row := int64(0); row*vf.blockTimes < int64(len(payload)); row++ {
		src := payload[row*vf.blockTimes : (row+1)*vf.blockTimes]
		if _, err := vf.f.WriteAt(src, rowOffset+row*ntimes); err != nil {
			return fmt.Errorf("error writing block %d: %w", index, err)
		}
	}
	return nil
}

// WriteTime sets the time vector entry of the block.
func (vf *File) WriteTime(index int, t uint64) error {
	if err := vf.checkIndex(index); err != nil {
		return err
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], t)
	if _, err := vf.f.WriteAt(b[:], vf.timeOffset+8*int64(index)); err != nil {
		return fmt.Errorf("error writing time %d: %w", index, err)
	}
	return nil
}

// ReadData returns the whole data array.
func (vf *File) ReadData() ([]byte, error) {
	b := make([]byte, vf.meta.Shape.dataSize())
	if _, err := vf.f.ReadAt(b, vf.dataOffset); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadRow returns all time samples of (antenna, pol, freq) row.
func (vf *File) ReadRow(a, p, c int) ([]byte, error) {
	s := vf.meta.Shape.Data
	if a < 0 || int64(a) >= s[0] || p < 0 || int64(p) >= s[1] || c < 0 || int64(c) >= s[2] {
		return nil, fmt.Errorf("%w: row (%d, %d, %d) of %v", ErrShape, a, p, c, s)
	}
	row := (int64(a)*s[1]+int64(p))*s[2] + int64(c)
	b := make([]byte, s[3])
	if _, err := vf.f.ReadAt(b, vf.dataOffset+row*s[3]); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadTimes returns the time vector.
func (vf *File) ReadTimes() ([]uint64, error) {
	b := make([]byte, 8*vf.meta.Shape.Blocks)
	if _, err := vf.f.ReadAt(b, vf.timeOffset); err != nil {
		return nil, err
	}
	times := make([]uint64, vf.meta.Shape.Blocks)
	for i := range times {
		times[i] = binary.BigEndian.Uint64(b[8*i:])
	}
	return times, nil
}

// Close closes the file.
func (vf *File) Close() error {
	return vf.f.Close()
}

func (vf *File) checkIndex(index int) error {
	if index < 0 || int64(index) >= vf.meta.Shape.Blocks {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndex, index, vf.meta.Shape.Blocks)
	}
	return nil
}

// Package writer stores strip blocks into voltage files.
//
// Every file holds BlocksPerFile blocks. The file is created with zero
// filled datasets before its first block arrives, and every block is
// written into its own time slice. When the file is full, the next one is
// created.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/voltpipe"
	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/layout"
	"pipelined.dev/voltpipe/log"
	"pipelined.dev/voltpipe/metric"
	"pipelined.dev/voltpipe/quicklook"
	"pipelined.dev/voltpipe/status"
	"pipelined.dev/voltpipe/voltfile"
)

// Status keys.
const (
	StatusKey  = "WRITESTAT"
	BlockInKey = "WRITEIN"
	McntKey    = "WRITEMCNT"
)

const (
	// DefaultPrefix of file names.
	DefaultPrefix = "hera_volt_data"
	// DefaultBlocksPerFile gives 131072 time samples per file.
	DefaultBlocksPerFile = 4096
	// ChanWidth in MHz.
	ChanWidth = 250.0 / 8192.0
	// TimeUnits of the time vector.
	TimeUnits = "millisec"

	// Ext is the data file extension.
	Ext = ".vlt"
	// ArchiveExt is appended to archived files.
	ArchiveExt = ".zst"
	// QuicklookExt replaces Ext of quicklook files.
	QuicklookExt = ".wav"
)

type (
	// Config of the writer.
	Config struct {
		Dir           string
		Prefix        string
		BlocksPerFile int
		// Archive compresses complete files.
		Archive bool
		// Quicklook writes selected row of every file as audio. Nil
		// disables it.
		Quicklook  *quicklook.Selector
		SampleRate int
		// Now is the clock of file names and time vector.
		Now func() time.Time
	}

	// Writer writes strip ring blocks to files.
	Writer struct {
		Config
		ring     *databuf.Ring[layout.Strip]
		strategy databuf.Strategy
		status   *status.Registry
		meter    *metric.Meter
		log      logrus.FieldLogger

		block   int
		counter int
		mcnt    uint64
		path    string
		files   []string
		ql      *quicklook.Sink
	}
)

// New returns writer of provided ring.
func New(ring *databuf.Ring[layout.Strip], s databuf.Strategy, cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.BlocksPerFile == 0 {
		cfg.BlocksPerFile = DefaultBlocksPerFile
	}
	if cfg.BlocksPerFile < 0 {
		return nil, fmt.Errorf("invalid number of blocks per file: %d", cfg.BlocksPerFile)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Quicklook != nil {
		// validate selector early.
		if _, err := quicklook.NewSink("", ring.Layout(), *cfg.Quicklook, cfg.SampleRate); err != nil {
			return nil, err
		}
	}
	return &Writer{
		Config:   cfg,
		ring:     ring,
		strategy: s,
		log:      log.GetLogger(),
		// first block needs a new file.
		counter: cfg.BlocksPerFile,
	}, nil
}

// Allocator returns the writer allocator.
func Allocator(cfg Config) voltpipe.Allocator {
	return func(env voltpipe.Env) (voltpipe.Stage, error) {
		if env.Rings == nil || env.Rings.Strip == nil {
			return nil, errors.New("writer requires strip ring")
		}
		w, err := New(env.Rings.Strip, env.Rings.Strategy, cfg)
		if err != nil {
			return nil, err
		}
		w.status = env.Status
		w.meter = env.Meter
		if env.Logger != nil {
			w.log = env.Logger
		}
		return w, nil
	}
}

// Header returns header of files for provided geometry.
func Header(g layout.Geometry, blocksPerFile int) voltfile.Header {
	ants := make([]int64, g.Antennas)
	for i := range ants {
		ants[i] = int64(i)
	}
	return voltfile.Header{
		Nants:     int64(g.Antennas),
		NantsData: int64(g.Antennas),
		Nfreqs:    int64(g.StripChans),
		Ntimes:    int64(blocksPerFile * g.TimePerBlock),
		Npols:     int64(g.Pols),
		ChanWidth: ChanWidth,
		TimeUnits: TimeUnits,
		AntArray:  ants,
	}
}

// Start checks the output directory.
func (w *Writer) Start(context.Context) error {
	fi, err := os.Stat(w.Dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%v is not a directory", w.Dir)
	}
	w.log.WithFields(logrus.Fields{
		"dir":           w.Dir,
		"blocksPerFile": w.BlocksPerFile,
		"archive":       w.Archive,
	}).Debug("writer started")
	return nil
}

// Execute writes one block. It returns io.EOF when context is done. Any
// file error is returned as is and the block stays filled.
func (w *Writer) Execute(ctx context.Context) error {
	w.status.Update(func(b status.Buffer) {
		b.PutInt(BlockInKey, int64(w.block))
		b.PutString(StatusKey, "waiting")
		b.PutUint(McntKey, w.mcnt)
	})
	if w.counter == w.BlocksPerFile {
		if err := w.rollover(); err != nil {
			return err
		}
	}

	if err := w.ring.Await(ctx, w.block, databuf.Filled, w.strategy, w.blocked); err != nil {
		if ctx.Err() != nil {
			return io.EOF
		}
		return err
	}
	w.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "writing")
	})

	blk := w.ring.Block(w.block)
	if err := w.write(blk.Data); err != nil {
		return err
	}
	if w.ql != nil {
		if err := w.ql.Write(blk.Data); err != nil {
			return err
		}
	}
	w.mcnt = blk.Header().Mcnt
	if err := w.ring.SetFree(w.block); err != nil {
		return err
	}
	w.meter.Block(len(blk.Data))
	w.log.WithFields(logrus.Fields{
		"block": w.block,
		"index": w.counter,
		"mcnt":  w.mcnt,
	}).Debug("block written")

	w.block = (w.block + 1) % w.ring.NumBlocks()
	w.counter++
	return nil
}

// Flush completes the current file.
func (w *Writer) Flush(context.Context) error {
	w.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "done")
	})
	return w.complete()
}

// Files returns paths of all files created by the writer, in order of
// creation. Archived files have ArchiveExt suffix.
func (w *Writer) Files() []string {
	return w.files
}

func (w *Writer) write(payload []byte) error {
	vf, err := voltfile.Reopen(w.path)
	if err != nil {
		return fmt.Errorf("error opening %v: %w", w.path, err)
	}
	if err := vf.WriteBlock(w.counter, payload); err != nil {
		vf.Close()
		return err
	}
	if err := vf.WriteTime(w.counter, uint64(w.Now().UnixMilli())); err != nil {
		vf.Close()
		return err
	}
	return vf.Close()
}

// rollover completes current file and creates the next one.
func (w *Writer) rollover() error {
	if err := w.complete(); err != nil {
		return err
	}
	now := w.Now()
	name := fmt.Sprintf("%s_%d_%s%s", w.Prefix, now.Unix(), xid.NewWithTime(now), Ext)
	path := filepath.Join(w.Dir, name)
	vf, err := voltfile.Create(path, Header(w.ring.Layout().Geometry(), w.BlocksPerFile), w.BlocksPerFile)
	if err != nil {
		return fmt.Errorf("error creating %v: %w", path, err)
	}
	if err := vf.Close(); err != nil {
		return err
	}
	if w.Quicklook != nil {
		// selector is validated in New.
		w.ql, _ = quicklook.NewSink(strings.TrimSuffix(path, Ext)+QuicklookExt, w.ring.Layout(), *w.Quicklook, w.SampleRate)
	}
	w.path = path
	w.files = append(w.files, path)
	w.counter = 0
	w.log.WithField("file", path).Info("new file")
	return nil
}

// complete closes quicklook and archives the current file.
func (w *Writer) complete() error {
	if w.path == "" {
		return nil
	}
	if w.ql != nil {
		if err := w.ql.Close(); err != nil {
			return err
		}
		w.ql = nil
	}
	if w.Archive {
		archived, err := Archive(w.path)
		if err != nil {
			return err
		}
		w.files[len(w.files)-1] = archived
	}
	w.path = ""
	return nil
}

// Archive compresses the file with zstd and removes the original. It
// returns the path of archived file.
func Archive(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()
	archived := path + ArchiveExt
	out, err := os.Create(archived)
	if err != nil {
		return "", err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return "", fmt.Errorf("error archiving %v: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("error archiving %v: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return archived, os.Remove(path)
}

// Unarchive decompresses archived file next to it and returns the path
// of decompressed file. Existing file is never overwritten.
func Unarchive(archived string) (string, error) {
	if !strings.HasSuffix(archived, ArchiveExt) {
		return "", fmt.Errorf("%v is not archived", archived)
	}
	path := strings.TrimSuffix(archived, ArchiveExt)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if err := Decompress(archived, out); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	return path, out.Close()
}

// Decompress writes decompressed content of archived file to w.
func Decompress(archived string, w io.Writer) error {
	in, err := os.Open(archived)
	if err != nil {
		return err
	}
	defer in.Close()
	dec, err := zstd.NewReader(in)
	if err != nil {
		return err
	}
	defer dec.Close()
	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("error unarchiving %v: %w", archived, err)
	}
	return nil
}

func (w *Writer) blocked() {
	w.meter.Blocked()
	w.status.Update(func(b status.Buffer) {
		b.PutString(StatusKey, "blocked")
	})
}

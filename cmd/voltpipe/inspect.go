package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"pipelined.dev/voltpipe/voltfile"
	"pipelined.dev/voltpipe/writer"
)

type inspectCommand struct {
	file string
}

func (cmd *inspectCommand) Name() string {
	return "inspect"
}

func (cmd *inspectCommand) Help() string {
	return "Show header and time vector of a voltage file"
}

func (cmd *inspectCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.file, "file", "", "voltage file, archived files are decompressed to a temporary file")
}

func (cmd *inspectCommand) Run(out io.Writer) error {
	if cmd.file == "" {
		return errors.New("file is not provided")
	}
	path := cmd.file
	if strings.HasSuffix(path, writer.ArchiveExt) {
		tmp, err := unarchiveTemp(path)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		path = tmp
	}
	vf, err := voltfile.Open(path)
	if err != nil {
		return err
	}
	defer vf.Close()

	h, s := vf.Header(), vf.Shape()
	fmt.Fprintf(out, "file: %v\n", cmd.file)
	fmt.Fprintf(out, "antennas: %d (%d with data)\n", h.Nants, h.NantsData)
	fmt.Fprintf(out, "freqs: %d, width %g MHz\n", h.Nfreqs, h.ChanWidth)
	fmt.Fprintf(out, "pols: %d\n", h.Npols)
	fmt.Fprintf(out, "times: %d in %d blocks\n", h.Ntimes, s.Blocks)
	fmt.Fprintf(out, "data: %v\n", s.Data)

	times, err := vf.ReadTimes()
	if err != nil {
		return err
	}
	var written int
	var first, last uint64
	for _, t := range times {
		if t == 0 {
			continue
		}
		if written == 0 {
			first = t
		}
		last = t
		written++
	}
	fmt.Fprintf(out, "written: %d/%d blocks\n", written, len(times))
	if written > 0 {
		fmt.Fprintf(out, "time: %d..%d %s\n", first, last, h.TimeUnits)
	}
	return nil
}

// unarchiveTemp decompresses archived file into a temporary file and
// returns its path.
func unarchiveTemp(archived string) (string, error) {
	f, err := os.CreateTemp("", "voltpipe-*"+writer.Ext)
	if err != nil {
		return "", err
	}
	if err := writer.Decompress(archived, f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// trace-dump decodes and displays Event Record trace files.
//
// Usage: trace-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> trace-dump ./testdata/ramp.rec
//	=== trace "./testdata/ramp.rec" ===
//	#0      ch=0x000001 t=100 addr=0x00 data=11
//	#1      ch=0x000002 t=200 addr=0x03 data=2201
//	records:      2
//	span:       100
//	bytes:       30
package main // import "github.com/go-lpc/rtio/cmd/trace-dump"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/rtio/record"
)

func main() {
	log.SetPrefix("trace-dump: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func xmain(stdout io.Writer, args []string) error {
	fset := flag.NewFlagSet("trace-dump", flag.ExitOnError)
	quiet := fset.Bool("q", false, "only display the trace summary")

	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), `trace-dump decodes and displays Event Record trace files.

Usage: trace-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> trace-dump ./testdata/ramp.rec
 === trace "./testdata/ramp.rec" ===
 #0      ch=0x000001 t=100 addr=0x00 data=11
 #1      ch=0x000002 t=200 addr=0x03 data=2201
 records:      2
 span:       100
 bytes:       30

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return fmt.Errorf("missing path to input trace file")
	}

	for _, fname := range fset.Args() {
		err := process(stdout, fname, *quiet)
		if err != nil {
			return fmt.Errorf("could not dump file %q: %w", fname, err)
		}
	}
	return nil
}

func process(w io.Writer, fname string, quiet bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	var (
		dec = record.NewDecoder(bufio.NewReader(f))
		rec record.Record

		n        int
		beg, end uint64
	)

	fmt.Fprintf(wbuf, "=== trace %q ===\n", fname)
loop:
	for {
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode record: %w", err)
		}
		if n == 0 {
			beg = rec.Timestamp
		}
		end = rec.Timestamp
		n++

		if !quiet {
			fmt.Fprintf(wbuf, "#%-6d %v\n", dec.Index()-1, rec)
		}
	}
	fmt.Fprintf(wbuf, "records: % 6d\n", n)
	fmt.Fprintf(wbuf, "span:    % 6d\n", end-beg)
	fmt.Fprintf(wbuf, "bytes:   % 6d\n", dec.Offset())

	return nil
}

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// analyzer-dump decodes and displays analyzer dump files.
//
// Usage: analyzer-dump [OPTIONS] [FILE1 [FILE2 [FILE3 ...]]]
//
// Example:
//
//	$> analyzer-dump ./testdata/run-42.dump
//	=== dump "./testdata/run-42.dump" ===
//	sent bytes:          96
//	total bytes:         96
//	error:            false
//	log channel:         -1
//	output    ch=0x000001 addr=0x00 t=1100 cnt=16 data=0x11
//	output    ch=0x000002 addr=0x03 t=1200 cnt=32 data=0x122
//	stopped   cnt=40
//
//	$> analyzer-dump -addr rtio-01:9999 -stats -lcio run-42.slcio
package main // import "github.com/go-lpc/rtio/cmd/analyzer-dump"

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"os"

	"github.com/go-lpc/rtio/analyzer"
	"github.com/go-lpc/rtio/internal/xcnv"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/lcio"
)

func main() {
	log.SetPrefix("analyzer-dump: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type options struct {
	stats bool
	quiet bool
	lcio  string
	run   int
	nbins int
}

func xmain(stdout io.Writer, args []string) error {
	fset := flag.NewFlagSet("analyzer-dump", flag.ExitOnError)
	var (
		addr  = fset.String("addr", "", "[ip]:port of an analyzer dump service to fetch a dump from")
		stats = fset.Bool("stats", false, "display statistics of the dumps")
		quiet = fset.Bool("q", false, "do not display messages")
		oname = fset.String("lcio", "", "path to an LCIO file to write the dumps to")
		run   = fset.Int("run", 0, "run number for the LCIO file")
		nbins = fset.Int("nbins", 20, "number of bins of the statistics histograms")
	)

	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), `analyzer-dump decodes and displays analyzer dump files.

Usage: analyzer-dump [OPTIONS] [FILE1 [FILE2 [FILE3 ...]]]

Example:

 $> analyzer-dump ./testdata/run-42.dump
 $> analyzer-dump -addr rtio-01:9999 -stats -lcio run-42.slcio

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if fset.NArg() == 0 && *addr == "" {
		fset.Usage()
		return fmt.Errorf("missing path to input dump file")
	}

	opts := options{
		stats: *stats,
		quiet: *quiet,
		lcio:  *oname,
		run:   *run,
		nbins: *nbins,
	}

	var (
		names []string
		dumps []analyzer.Dump
	)
	if *addr != "" {
		d, err := fetch(*addr)
		if err != nil {
			return fmt.Errorf("could not fetch dump from %q: %w", *addr, err)
		}
		names = append(names, *addr)
		dumps = append(dumps, d)
	}
	for _, fname := range fset.Args() {
		d, err := load(fname)
		if err != nil {
			return fmt.Errorf("could not load dump %q: %w", fname, err)
		}
		names = append(names, fname)
		dumps = append(dumps, d)
	}

	return process(stdout, names, dumps, opts)
}

func fetch(addr string) (analyzer.Dump, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return analyzer.Dump{}, err
	}
	defer conn.Close()

	return analyzer.ReadDump(bufio.NewReader(conn))
}

func load(fname string) (analyzer.Dump, error) {
	f, err := os.Open(fname)
	if err != nil {
		return analyzer.Dump{}, err
	}
	defer f.Close()

	return analyzer.ReadDump(bufio.NewReader(f))
}

func process(w io.Writer, names []string, dumps []analyzer.Dump, opts options) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	for i, d := range dumps {
		msgs, err := d.Messages()
		if err != nil {
			return fmt.Errorf("could not decode dump %q: %w", names[i], err)
		}

		fmt.Fprintf(wbuf, "=== dump %q ===\n", names[i])
		fmt.Fprintf(wbuf, "sent bytes:  % 10d\n", d.SentBytes)
		fmt.Fprintf(wbuf, "total bytes: % 10d\n", d.TotalByteCount)
		fmt.Fprintf(wbuf, "error:       % 10v\n", d.ErrorOccurred)
		fmt.Fprintf(wbuf, "log channel: % 10d\n", d.LogChannel)
		if !opts.quiet {
			for _, msg := range msgs {
				fmt.Fprintf(wbuf, "%v\n", msg)
			}
		}

		if opts.stats {
			printStats(wbuf, msgs, opts.nbins)
		}
	}

	if opts.lcio != "" {
		err := writeLCIO(opts.lcio, dumps, int32(opts.run))
		if err != nil {
			return fmt.Errorf("could not write LCIO file %q: %w", opts.lcio, err)
		}
	}

	return nil
}

func writeLCIO(fname string, dumps []analyzer.Dump, run int32) error {
	w, err := lcio.Create(fname)
	if err != nil {
		return err
	}
	defer w.Close()

	err = xcnv.Dump2LCIO(w, dumps, run, log.New(io.Discard, "", 0))
	if err != nil {
		return err
	}

	return w.Close()
}

// printStats displays the distributions of the counter interval between
// consecutive messages and of the slack of output commands.
func printStats(w io.Writer, msgs []analyzer.Message, nbins int) {
	var (
		kinds = make(map[analyzer.Kind]int)
		dts   []float64
		slack []float64
	)
	for i, msg := range msgs {
		kinds[msg.Kind]++
		if i > 0 {
			dts = append(dts, float64(int64(msg.Counter-msgs[i-1].Counter)))
		}
		if msg.Kind == analyzer.KindOutput {
			slack = append(slack, float64(int64(msg.Timestamp-msg.Counter)))
		}
	}

	fmt.Fprintf(w, "--- stats ---\n")
	for _, k := range []analyzer.Kind{
		analyzer.KindOutput, analyzer.KindInput,
		analyzer.KindException, analyzer.KindStopped,
	} {
		fmt.Fprintf(w, "%-9s % 10d\n", k, kinds[k])
	}
	printH1D(w, "interval", dts, nbins)
	printH1D(w, "slack", slack, nbins)
}

func printH1D(w io.Writer, name string, vs []float64, nbins int) {
	if len(vs) == 0 {
		fmt.Fprintf(w, "%s: no entries\n", name)
		return
	}

	xmin, xmax := math.Inf(+1), math.Inf(-1)
	for _, v := range vs {
		xmin = math.Min(xmin, v)
		xmax = math.Max(xmax, v)
	}
	if xmax <= xmin {
		xmax = xmin + 1
	}
	// last bin is inclusive of xmax.
	xmax = math.Nextafter(xmax, math.Inf(+1))

	h := hbook.NewH1D(nbins, xmin, xmax)
	for _, v := range vs {
		h.Fill(v, 1)
	}

	fmt.Fprintf(w, "%s: entries=%d mean=%g", name, h.Entries(), h.XMean())
	if h.Entries() > 1 {
		fmt.Fprintf(w, " std-dev=%g", h.XStdDev())
	}
	fmt.Fprintf(w, "\n")
	for i := range h.Binning.Bins {
		bin := &h.Binning.Bins[i]
		n := bin.Entries()
		if n == 0 {
			continue
		}
		fmt.Fprintf(w, "  [%12g, %12g) % 8d\n", bin.XMin(), bin.XMax(), n)
	}
}

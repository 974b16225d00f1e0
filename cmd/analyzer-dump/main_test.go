// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/rtio/analyzer"
	"github.com/go-lpc/rtio/cri"
	"github.com/go-lpc/rtio/internal/mmap"
	"github.com/go-lpc/rtio/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

var testMsgs = []analyzer.Message{
	{Kind: analyzer.KindOutput, Channel: 1, Timestamp: 1100, Counter: 16, Data: 0x11},
	{Kind: analyzer.KindOutput, Channel: 2, Address: 3, Timestamp: 1200, Counter: 32, Data: 0x122},
	{Kind: analyzer.KindStopped, Counter: 40},
}

func mkDump(t *testing.T, msgs []analyzer.Message) analyzer.Dump {
	t.Helper()
	d := analyzer.Dump{LogChannel: -1, DDSOneHot: true}
	for _, m := range msgs {
		p, err := m.MarshalBinary()
		if err != nil {
			t.Fatalf("could not marshal message: %+v", err)
		}
		d.Data = append(d.Data, p...)
	}
	d.SentBytes = int32(len(d.Data))
	d.TotalByteCount = int64(len(d.Data))
	return d
}

func TestProcess(t *testing.T) {
	d := mkDump(t, testMsgs)
	out := new(bytes.Buffer)
	err := process(out, []string{"run-42.dump"}, []analyzer.Dump{d}, options{})
	if err != nil {
		t.Fatalf("could not process dump: %+v", err)
	}

	want := `=== dump "run-42.dump" ===
sent bytes:          96
total bytes:         96
error:            false
log channel:         -1
output    ch=0x000001 addr=0x00 t=1100 cnt=16 data=0x11
output    ch=0x000002 addr=0x03 t=1200 cnt=32 data=0x122
stopped   cnt=40
`
	if got := out.String(); got != want {
		t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestStats(t *testing.T) {
	d := mkDump(t, testMsgs)
	out := new(bytes.Buffer)
	err := process(out, []string{"run"}, []analyzer.Dump{d}, options{
		stats: true,
		quiet: true,
		nbins: 4,
	})
	if err != nil {
		t.Fatalf("could not process dump: %+v", err)
	}

	for _, want := range []string{
		"--- stats ---\n",
		"output             2\n",
		"input              0\n",
		"stopped            1\n",
		"interval: entries=2 mean=12 std-dev=",
		"slack: entries=2 mean=1126 std-dev=",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("invalid output:\ngot:\n%s\nwant: %q", out.String(), want)
		}
	}
	if strings.Contains(out.String(), "output    ch=") {
		t.Fatalf("quiet mode should not display messages:\n%s", out.String())
	}
}

func TestInvalidDump(t *testing.T) {
	d := analyzer.Dump{Data: make([]byte, 17)}
	err := process(io.Discard, []string{"bad"}, []analyzer.Dump{d}, options{})
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestXMain(t *testing.T) {
	tmp := t.TempDir()
	fname := filepath.Join(tmp, "run.dump")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create dump file: %+v", err)
	}
	defer f.Close()

	err = analyzer.WriteDump(f, mkDump(t, testMsgs))
	if err != nil {
		t.Fatalf("could not write dump: %+v", err)
	}
	err = f.Close()
	if err != nil {
		t.Fatalf("could not close dump file: %+v", err)
	}

	oname := filepath.Join(tmp, "run.slcio")
	out := new(bytes.Buffer)
	err = xmain(out, []string{"-stats", "-lcio", oname, "-run", "42", fname})
	if err != nil {
		t.Fatalf("could not run analyzer-dump: %+v", err)
	}

	r, err := lcio.Open(oname)
	if err != nil {
		t.Fatalf("could not open LCIO file: %+v", err)
	}
	defer r.Close()

	got, err := xcnv.LCIO2Messages(r)
	if err != nil {
		t.Fatalf("could not read back LCIO file: %+v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], testMsgs) {
		t.Fatalf("invalid LCIO content:\ngot= %v\nwant=%v", got, testMsgs)
	}
}

func TestFetch(t *testing.T) {
	sim := cri.NewSim(cri.WithTick(8))
	bus := cri.NewBus(sim)
	cli := cri.NewClient(bus)

	mem := mmap.HandleFrom(make([]byte, 1024))
	msg := log.New(io.Discard, "", 0)
	ana, err := analyzer.New(mem, analyzer.WithLogger(msg), analyzer.WithCounter(sim))
	if err != nil {
		t.Fatalf("could not create analyzer: %+v", err)
	}
	err = ana.Configure(0, 1023)
	if err != nil {
		t.Fatalf("could not configure analyzer: %+v", err)
	}
	bus.Attach(ana)

	srv, err := analyzer.NewServer("127.0.0.1:0", ana, mem, analyzer.WithLogger(msg))
	if err != nil {
		t.Fatalf("could not create dump server: %+v", err)
	}
	defer srv.Close()

	go func() {
		_ = srv.Serve()
	}()

	timeout := time.After(5 * time.Second)
	for !ana.Enabled() {
		select {
		case <-timeout:
			t.Fatalf("analyzer was not armed")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	err = cli.Write(context.Background(), cri.Command{Op: cri.Write, Channel: 5, Timestamp: 1000, Data: 1, Size: 1})
	if err != nil {
		t.Fatalf("could not write command: %+v", err)
	}

	d, err := fetch(srv.Addr().String())
	if err != nil {
		t.Fatalf("could not fetch dump: %+v", err)
	}
	msgs, err := d.Messages()
	if err != nil {
		t.Fatalf("could not decode messages: %+v", err)
	}
	if got, want := len(msgs), 2; got != want {
		t.Fatalf("invalid number of messages: got=%d, want=%d", got, want)
	}
	if got, want := msgs[0].Channel, uint32(5); got != want {
		t.Fatalf("invalid channel: got=%d, want=%d", got, want)
	}
	if got, want := msgs[1].Kind, analyzer.KindStopped; got != want {
		t.Fatalf("invalid kind: got=%v, want=%v", got, want)
	}
}

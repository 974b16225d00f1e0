// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-lpc/rtio/analyzer"
	"go-hep.org/x/hep/lcio"
)

func TestDump2LCIO(t *testing.T) {
	msgs := [][]analyzer.Message{
		{
			{Kind: analyzer.KindOutput, Channel: 0x030201, Address: 4, Counter: 1<<40 | 5, Timestamp: 1<<63 | 6, Data: 0xdeadbeefcafe},
			{Kind: analyzer.KindException, Channel: 2, Counter: 10, Timestamp: 7, Data: analyzer.ExcUnderflow},
			{Kind: analyzer.KindStopped, Counter: 42},
		},
		{},
		{
			{Kind: analyzer.KindInput, Channel: 1<<30 - 1, Counter: 1, Timestamp: 2, Data: 1<<64 - 1},
		},
	}

	dumps := make([]analyzer.Dump, len(msgs))
	for i, ms := range msgs {
		dumps[i] = dumpFrom(t, ms)
	}

	fname := filepath.Join(t.TempDir(), "telemetry.slcio")
	w, err := lcio.Create(fname)
	if err != nil {
		t.Fatalf("could not create LCIO file: %+v", err)
	}
	defer w.Close()

	msg := log.New(io.Discard, "", 0)
	err = Dump2LCIO(w, dumps, 42, msg)
	if err != nil {
		t.Fatalf("could not convert to LCIO: %+v", err)
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("could not close LCIO file: %+v", err)
	}

	r, err := lcio.Open(fname)
	if err != nil {
		t.Fatalf("could not open LCIO file: %+v", err)
	}
	defer r.Close()

	got, err := LCIO2Messages(r)
	if err != nil {
		t.Fatalf("could not convert from LCIO: %+v", err)
	}

	if got, want := len(got), len(msgs); got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	for i := range msgs {
		if len(got[i]) == 0 && len(msgs[i]) == 0 {
			continue
		}
		if !reflect.DeepEqual(got[i], msgs[i]) {
			t.Fatalf("invalid event %d:\ngot= %v\nwant=%v", i, got[i], msgs[i])
		}
	}
}

func dumpFrom(t *testing.T, msgs []analyzer.Message) analyzer.Dump {
	t.Helper()
	var d analyzer.Dump
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

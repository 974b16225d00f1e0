// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/rtio/record"
)

func TestProcess(t *testing.T) {
	tmp := t.TempDir()

	ramp, err := record.Marshal([]record.Record{
		{Channel: 1, Timestamp: 100, Data: []byte{0x11}},
		{Channel: 2, Timestamp: 200, Address: 3, Data: []byte{0x22, 0x01}},
	})
	if err != nil {
		t.Fatalf("could not marshal trace: %+v", err)
	}

	for _, tc := range []struct {
		name  string
		raw   []byte
		quiet bool
		want  string
		err   error
	}{
		{
			name: "ramp",
			raw:  ramp,
			want: `=== trace %q ===
#0      ch=0x000001 t=100 addr=0x00 data=11
#1      ch=0x000002 t=200 addr=0x03 data=2201
records:      2
span:       100
bytes:       30
`,
		},
		{
			name:  "quiet",
			raw:   ramp,
			quiet: true,
			want: `=== trace %q ===
records:      2
span:       100
bytes:       30
`,
		},
		{
			name: "empty",
			raw:  []byte{record.EndMarker},
			want: `=== trace %q ===
records:      0
span:         0
bytes:        1
`,
		},
		{
			name: "truncated",
			raw:  ramp[:20],
			err:  io.ErrUnexpectedEOF,
		},
		{
			name: "malformed",
			raw:  []byte{5, 0, 0},
			err:  record.ErrMalformed,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(tmp, tc.name)
			err := os.WriteFile(fname, tc.raw, 0644)
			if err != nil {
				t.Fatalf("could not create trace file: %+v", err)
			}

			out := new(bytes.Buffer)
			err = process(out, fname, tc.quiet)
			switch {
			case err != nil && tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error:\ngot= %+v\nwant=%+v", err, tc.err)
				}
				return
			case err != nil && tc.err == nil:
				t.Fatalf("could not process trace file: %+v", err)
			case err == nil && tc.err != nil:
				t.Fatalf("expected an error (%v)", tc.err)
			}

			if got, want := out.String(), fmt.Sprintf(tc.want, fname); got != want {
				t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
			}
		})
	}
}

func TestXMain(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "trace.rec")
	err := os.WriteFile(fname, []byte{record.EndMarker}, 0644)
	if err != nil {
		t.Fatalf("could not create trace file: %+v", err)
	}

	err = xmain(io.Discard, []string{"-q", fname})
	if err != nil {
		t.Fatalf("could not run trace-dump: %+v", err)
	}
}

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("could not load default config: %+v", err)
	}
	if got, want := cfg, Default(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestLoad(t *testing.T) {
	tmp := t.TempDir()
	fname := filepath.Join(tmp, "rtio.yaml")
	err := os.WriteFile(fname, []byte(`
core:
  kind: MMIO
  base: 0x1000
analyzer:
  bus_width: 16
  log_channel: 3
  addr: ":9999"
playback:
  trace: ramp.rec
  offset: 1000
tracedb:
  dsn: "rtio:secret@tcp(localhost:3306)/rtio"
mail:
  server: smtp.example.org
  to: [ops@example.org, daq@example.org]
`), 0644)
	if err != nil {
		t.Fatalf("could not create config file: %+v", err)
	}

	t.Setenv("RTIO_PLAYBACK_BURST", "64")

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	want := Default()
	want.Core.Kind = "mmio"
	want.Core.Base = 0x1000
	want.Analyzer.BusWidth = 16
	want.Analyzer.LogChannel = 3
	want.Analyzer.Addr = ":9999"
	want.Playback.Trace = "ramp.rec"
	want.Playback.Offset = 1000
	want.Playback.Burst = 64
	want.TraceDB.DSN = "rtio:secret@tcp(localhost:3306)/rtio"
	want.Mail.Server = "smtp.example.org"
	want.Mail.To = []string{"ops@example.org", "daq@example.org"}

	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", cfg, want)
	}
}

func TestLoadErrors(t *testing.T) {
	tmp := t.TempDir()
	for _, tc := range []struct {
		name string
		yaml string
		err  string
	}{
		{
			name: "core-kind",
			yaml: "core:\n  kind: fpga\n",
			err:  `config: invalid core kind "fpga"`,
		},
		{
			name: "bus-width",
			yaml: "analyzer:\n  bus_width: 12\n",
			err:  "config: invalid analyzer bus width 12",
		},
		{
			name: "aux-memory",
			yaml: "aux:\n  memory: 1024\n",
			err:  "config: aux memory too small (1024 < 16384)",
		},
		{
			name: "aux-both",
			yaml: "aux:\n  listen: \":1234\"\n  dial: \"host:1234\"\n",
			err:  "config: aux link can not both listen and dial",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(tmp, tc.name+".yaml")
			err := os.WriteFile(fname, []byte(tc.yaml), 0644)
			if err != nil {
				t.Fatalf("could not create config file: %+v", err)
			}
			_, err = Load(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "config: no such file"; !strings.HasPrefix(got, want) {
		t.Fatalf("invalid error: got=%q, want prefix %q", got, want)
	}
}

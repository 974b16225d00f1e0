// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rtio-shell is an interactive console driving a simulated
// timeline core.
//
// Usage: rtio-shell [OPTIONS]
//
// Example:
//
//	$> rtio-shell
//	rtio> write 1 100 0x42
//	rtio> status
//	rtio> quit
package main // import "github.com/go-lpc/rtio/cmd/rtio-shell"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("rtio-shell: ")
	log.SetFlags(0)

	var (
		tick  = flag.Uint64("tick", 8, "counter increment per poll")
		lat   = flag.Int("latency", 1, "polls per output command")
		width = flag.Int("bus-width", 8, "analyzer bus width, in bytes")
		tsize = flag.Int("trace-mem", 1<<16, "trace memory size, in bytes")
		asize = flag.Int("telemetry-mem", 1<<12, "telemetry memory size, in bytes")
	)

	flag.Parse()

	sh, err := newShell(shellConfig{
		tick:     *tick,
		latency:  *lat,
		busWidth: *width,
		traceMem: *tsize,
		telemMem: *asize,
	})
	if err != nil {
		log.Fatalf("could not create shell: %+v", err)
	}
	defer sh.Close()

	err = run(sh, os.Stdout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(sh *shell, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	ctx := context.Background()
	for {
		line, err := term.Prompt("rtio> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(w)
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(ctx, line, w)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(w, "error: %+v\n", err)
		}
	}
}

func complete(line string) []string {
	var o []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd.name, strings.ToLower(line)) {
			o = append(o, cmd.name)
		}
	}
	return o
}

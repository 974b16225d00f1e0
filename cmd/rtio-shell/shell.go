// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/bits"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/go-lpc/rtio"
	"github.com/go-lpc/rtio/analyzer"
	"github.com/go-lpc/rtio/auxlink"
	"github.com/go-lpc/rtio/cri"
	"github.com/go-lpc/rtio/internal/mmap"
	"github.com/go-lpc/rtio/playback"
	"github.com/go-lpc/rtio/tracedb"
)

var errQuit = errors.New("quit")

var commands = []struct {
	name string
	help string
}{
	{"write", "write <channel> <timestamp> <data> [size]  issue (or record) an output command"},
	{"read", "read <channel> <timeout>                    issue an input command"},
	{"inject", "inject <channel> <timestamp> <data>         queue an input event"},
	{"advance", "advance <dt>                                move the counter forward"},
	{"record", "record start <name> | record stop [duration]"},
	{"traces", "traces                                      list the traces in trace memory"},
	{"play", "play <name> [offset]                        replay a trace, offset relative to now"},
	{"arm", "arm                                         reset and enable the analyzer"},
	{"disarm", "disarm                                      disable and drain the analyzer"},
	{"dump", "dump                                        print the analyzer messages"},
	{"aux", "aux send <text> | aux recv                 exchange packets over the aux loopback"},
	{"status", "status                                      print the state of the core"},
	{"help", "help                                        print this help"},
	{"quit", "quit                                        leave the shell"},
}

type shellConfig struct {
	tick     uint64
	latency  int
	busWidth int
	traceMem int
	telemMem int
}

// shell drives a simulated timeline core.
// Timestamps prefixed with '+' are relative to the current counter.
type shell struct {
	sim *cri.Sim
	bus *cri.Bus
	cli *cri.Client

	tmem  *mmap.Handle
	amem  *mmap.Handle
	ana   *analyzer.Analyzer
	eng   *playback.Engine
	rec   *tracedb.Recorder
	store *tracedb.Store

	aux struct {
		local  *auxlink.Controller
		remote *auxlink.Controller
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}
}

func newShell(cfg shellConfig) (*shell, error) {
	msg := log.New(io.Discard, "", 0)

	sh := &shell{
		sim: cri.NewSim(cri.WithTick(cfg.tick), cri.WithLatency(cfg.latency)),
		rec: tracedb.NewRecorder(),
	}
	sh.bus = cri.NewBus(sh.sim)
	sh.cli = cri.NewClient(sh.bus)

	var err error
	sh.tmem, err = mmap.Anon(cfg.traceMem)
	if err != nil {
		return nil, fmt.Errorf("could not allocate trace memory: %w", err)
	}
	sh.amem, err = mmap.Anon(cfg.telemMem)
	if err != nil {
		_ = sh.tmem.Close()
		return nil, fmt.Errorf("could not allocate telemetry memory: %w", err)
	}

	sh.ana, err = analyzer.New(
		sh.amem,
		analyzer.WithLogger(msg),
		analyzer.WithBusWidth(cfg.busWidth),
		analyzer.WithCounter(sh.sim),
	)
	if err == nil {
		err = sh.ana.Configure(0, int64(cfg.telemMem)-1)
	}
	if err != nil {
		sh.Close()
		return nil, fmt.Errorf("could not create analyzer: %w", err)
	}
	sh.bus.Attach(sh.ana)

	sh.eng = playback.New(sh.tmem, sh.cli, playback.WithLogger(msg))
	sh.store, err = tracedb.NewStore(sh.tmem, 0, int64(cfg.traceMem))
	if err != nil {
		sh.Close()
		return nil, fmt.Errorf("could not create trace store: %w", err)
	}

	err = sh.startAux(msg)
	if err != nil {
		sh.Close()
		return nil, fmt.Errorf("could not create aux loopback: %w", err)
	}

	return sh, nil
}

func (sh *shell) startAux(msg *log.Logger) error {
	var err error
	opts := []auxlink.Option{
		auxlink.WithLogger(msg),
		auxlink.WithPacketSize(256),
		auxlink.WithBufferCount(4),
	}
	sh.aux.local, err = auxlink.New(mmap.HandleFrom(make([]byte, 2*256*4)), 0, opts...)
	if err != nil {
		return err
	}
	sh.aux.remote, err = auxlink.New(mmap.HandleFrom(make([]byte, 2*256*4)), 0, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sh.aux.cancel = cancel

	a, b := net.Pipe()
	for _, tr := range []*auxlink.Transport{
		auxlink.NewTransport(a, sh.aux.local),
		auxlink.NewTransport(b, sh.aux.remote),
	} {
		tr := tr
		sh.aux.wg.Add(1)
		go func() {
			defer sh.aux.wg.Done()
			_ = tr.Run(ctx)
		}()
	}

	// the remote end echoes every packet back.
	sh.aux.wg.Add(1)
	go func() {
		defer sh.aux.wg.Done()
		for {
			p, err := sh.aux.remote.Recv(ctx)
			if err != nil {
				return
			}
			err = sh.aux.remote.Send(ctx, p)
			if err != nil {
				return
			}
		}
	}()
	return nil
}

func (sh *shell) Close() {
	if sh.aux.cancel != nil {
		sh.aux.cancel()
		sh.aux.wg.Wait()
	}
	if sh.eng != nil {
		sh.eng.Disable()
	}
	if sh.ana != nil {
		sh.ana.Disable()
		_ = sh.ana.Wait(context.Background())
	}
	if sh.amem != nil {
		_ = sh.amem.Close()
	}
	if sh.tmem != nil {
		_ = sh.tmem.Close()
	}
}

func (sh *shell) exec(ctx context.Context, line string, w io.Writer) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	name, args := strings.ToLower(args[0]), args[1:]
	switch name {
	case "write":
		return sh.write(ctx, args, w)
	case "read":
		return sh.read(ctx, args, w)
	case "inject":
		return sh.inject(args, w)
	case "advance":
		return sh.advance(args, w)
	case "record":
		return sh.record(args, w)
	case "traces":
		return sh.traces(w)
	case "play":
		return sh.play(ctx, args, w)
	case "arm":
		return sh.arm(w)
	case "disarm":
		return sh.disarm(ctx, w)
	case "dump":
		return sh.dump(w)
	case "aux":
		return sh.auxCmd(ctx, args, w)
	case "status":
		return sh.status(w)
	case "help":
		for _, cmd := range commands {
			fmt.Fprintf(w, "  %s\n", cmd.help)
		}
		return nil
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q (try help)", name)
}

func nargs(args []string, min, max int, usage string) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func parseUint(s string, bitSize int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bitSize)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return v, nil
}

func (sh *shell) parseTime(s string) (uint64, error) {
	if strings.HasPrefix(s, "+") {
		dt, err := parseUint(s[1:], 64)
		if err != nil {
			return 0, err
		}
		return sh.sim.Counter() + dt, nil
	}
	return parseUint(s, 64)
}

func (sh *shell) write(ctx context.Context, args []string, w io.Writer) error {
	const usage = "write <channel> <timestamp> <data> [size]"
	err := nargs(args, 3, 4, usage)
	if err != nil {
		return err
	}

	ch, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	ts, err := sh.parseTime(args[1])
	if err != nil {
		return err
	}
	data, err := parseUint(args[2], 64)
	if err != nil {
		return err
	}
	size := (bits.Len64(data) + 7) / 8
	if size == 0 {
		size = 1
	}
	if len(args) == 4 {
		v, err := parseUint(args[3], 8)
		if err != nil {
			return err
		}
		size = int(v)
	}

	cmd := cri.Command{
		Op:        cri.Write,
		Channel:   uint32(ch),
		Timestamp: ts,
		Data:      data,
		Size:      size,
	}

	if sh.rec.Recording() {
		err = sh.rec.Write(ctx, cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "recorded ch=0x%06x t=%d data=0x%x\n", cmd.Channel, cmd.Timestamp, cmd.Data)
		return nil
	}

	err = sh.cli.Write(ctx, cmd)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote ch=0x%06x t=%d data=0x%x\n", cmd.Channel, cmd.Timestamp, cmd.Data)
	return nil
}

func (sh *shell) read(ctx context.Context, args []string, w io.Writer) error {
	err := nargs(args, 2, 2, "read <channel> <timeout>")
	if err != nil {
		return err
	}
	ch, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	timeout, err := sh.parseTime(args[1])
	if err != nil {
		return err
	}

	evt, err := sh.cli.Read(ctx, uint32(ch), 0, timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "read ch=0x%06x t=%d data=0x%x\n", ch, evt.Timestamp, evt.Data)
	return nil
}

func (sh *shell) inject(args []string, w io.Writer) error {
	err := nargs(args, 3, 3, "inject <channel> <timestamp> <data>")
	if err != nil {
		return err
	}
	ch, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	ts, err := sh.parseTime(args[1])
	if err != nil {
		return err
	}
	data, err := parseUint(args[2], 64)
	if err != nil {
		return err
	}
	sh.sim.Inject(uint32(ch), ts, data)
	return nil
}

func (sh *shell) advance(args []string, w io.Writer) error {
	err := nargs(args, 1, 1, "advance <dt>")
	if err != nil {
		return err
	}
	dt, err := parseUint(args[0], 64)
	if err != nil {
		return err
	}
	sh.sim.Advance(dt)
	fmt.Fprintf(w, "now=%d\n", sh.sim.Counter())
	return nil
}

func (sh *shell) record(args []string, w io.Writer) error {
	const usage = "record start <name> | record stop [duration]"
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", usage)
	}

	switch args[0] {
	case "start":
		err := nargs(args, 2, 2, usage)
		if err != nil {
			return err
		}
		return sh.rec.Start(args[1])

	case "stop":
		err := nargs(args, 1, 2, usage)
		if err != nil {
			return err
		}
		var dur uint64
		if len(args) == 2 {
			dur, err = parseUint(args[1], 64)
			if err != nil {
				return err
			}
		}
		tr, err := sh.rec.Stop(dur)
		if err != nil {
			return err
		}
		e, err := sh.store.Put(tr)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "trace %q: %d bytes at 0x%x\n", e.Name, e.Len, e.Addr)
		return nil
	}
	return fmt.Errorf("usage: %s", usage)
}

func (sh *shell) traces(w io.Writer) error {
	for _, name := range sh.store.Names() {
		e, _ := sh.store.Get(name)
		fmt.Fprintf(w, "%-16s addr=0x%06x len=%d duration=%d\n", e.Name, e.Addr, e.Len, e.Duration)
	}
	return nil
}

func (sh *shell) play(ctx context.Context, args []string, w io.Writer) error {
	err := nargs(args, 1, 2, "play <name> [offset]")
	if err != nil {
		return err
	}
	e, ok := sh.store.Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %q", tracedb.ErrNotFound, args[0])
	}

	offset := int64(sh.sim.Counter())
	if len(args) == 2 {
		v, err := strconv.ParseInt(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", args[1], err)
		}
		offset += v
	}

	err = sh.eng.Play(ctx, e.Addr, offset)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "played %d records of %q\n", sh.eng.Issued(), e.Name)
	return nil
}

func (sh *shell) arm(w io.Writer) error {
	err := sh.ana.Reset()
	if err != nil {
		return err
	}
	return sh.ana.Enable()
}

func (sh *shell) disarm(ctx context.Context, w io.Writer) error {
	sh.ana.Disable()
	return sh.ana.Wait(ctx)
}

func (sh *shell) dump(w io.Writer) error {
	d, err := sh.ana.Snapshot(sh.amem)
	if err != nil {
		return err
	}
	msgs, err := d.Messages()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		fmt.Fprintf(w, "%v\n", msg)
	}
	fmt.Fprintf(w, "total=%d error=%v\n", d.TotalByteCount, d.ErrorOccurred)
	return nil
}

func (sh *shell) auxCmd(ctx context.Context, args []string, w io.Writer) error {
	const usage = "aux send <text> | aux recv"
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", usage)
	}
	switch args[0] {
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s", usage)
		}
		return sh.aux.local.Send(ctx, []byte(strings.Join(args[1:], " ")))
	case "recv":
		p, err := sh.aux.local.Recv(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%q\n", p)
		return nil
	}
	return fmt.Errorf("usage: %s", usage)
}

func (sh *shell) status(w io.Writer) error {
	if v := rtio.Version(); v != "" {
		fmt.Fprintf(w, "version:   %s\n", v)
	}
	fmt.Fprintf(w, "now:       %d\n", sh.sim.Counter())
	fmt.Fprintf(w, "recording: %v\n", sh.rec.Recording())
	fmt.Fprintf(w, "analyzer:  enabled=%v busy=%v bytes=%d overflow=%v bus-error=%v\n",
		sh.ana.Enabled(), sh.ana.Busy(), sh.ana.ByteCount(), sh.ana.Overflow(), sh.ana.BusError(),
	)
	fmt.Fprintf(w, "playback:  state=%v", sh.eng.State())
	if err := sh.eng.Err(); err != nil {
		fmt.Fprintf(w, " error=%q", err.Error())
	}
	fmt.Fprintf(w, "\n")
	st := sh.aux.local.Stats()
	fmt.Fprintf(w, "aux:       tx=%d/%d rx=%d/%d\n", st.TxSent, st.TxQueued, st.RxRead, st.RxReceived)
	return nil
}

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node assembles a timeline core, its telemetry analyzer, the
// trace playback engine and the auxiliary link controller into a
// run-control node.
package node // import "github.com/go-lpc/rtio/node"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/go-lpc/rtio/analyzer"
	"github.com/go-lpc/rtio/auxlink"
	"github.com/go-lpc/rtio/config"
	"github.com/go-lpc/rtio/cri"
	"github.com/go-lpc/rtio/internal/mmap"
	"github.com/go-lpc/rtio/playback"
	"github.com/go-lpc/rtio/record"
	"github.com/go-lpc/rtio/tracedb"
	"golang.org/x/sync/errgroup"
)

// Option configures a node.
type Option func(*Node)

// WithLogger sets the logger of the node and its components.
func WithLogger(msg *log.Logger) Option {
	return func(n *Node) { n.msg = msg }
}

// WithAlerter sets the function called to report fatal errors.
func WithAlerter(f func(subject, body string) error) Option {
	return func(n *Node) { n.alert = f }
}

// Node hosts the components of a timeline core.
type Node struct {
	cfg   config.Config
	msg   *log.Logger
	alert func(subject, body string) error

	mu sync.Mutex

	mem struct {
		regs  *mmap.Handle
		trace *mmap.Handle
		telem *mmap.Handle
		aux   *mmap.Handle
	}

	core   cri.Core
	bus    *cri.Bus
	cli    *cri.Client
	ana    *analyzer.Analyzer
	detach func()
	eng    *playback.Engine
	store  *tracedb.Store
	db     *tracedb.DB
	aux    *auxlink.Controller

	trace *tracedb.Entry
	dumps chan []byte
}

// New creates a node from cfg. No resource is allocated until Configure.
func New(cfg config.Config, opts ...Option) *Node {
	n := &Node{
		cfg:   cfg,
		msg:   log.New(os.Stdout, "rtio: ", 0),
		dumps: make(chan []byte, 1),
	}
	n.alert = n.sendMail
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Configure allocates the memory regions and builds the components of
// the node, releasing those of a previous configuration.
func (n *Node) Configure() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.release()
	if err != nil {
		return fmt.Errorf("node: could not release previous configuration: %w", err)
	}

	err = n.configure()
	if err != nil {
		_ = n.release()
		return err
	}
	return nil
}

func (n *Node) configure() error {
	var err error
	cfg := n.cfg

	switch cfg.Core.Kind {
	case "sim":
		n.core = cri.NewSim(
			cri.WithTick(cfg.Core.Tick),
			cri.WithLatency(cfg.Core.Latency),
		)
	case "mmio":
		n.mem.regs, err = mmap.Open(cfg.Core.Device, cfg.Core.Base, cri.RegistersSpan)
		if err != nil {
			return fmt.Errorf("node: could not map timeline core registers: %w", err)
		}
		n.core = cri.NewRegisters(n.mem.regs, 0)
	default:
		return fmt.Errorf("node: invalid core kind %q", cfg.Core.Kind)
	}
	n.bus = cri.NewBus(n.core)
	n.cli = cri.NewClient(n.bus)

	n.mem.trace, err = mmap.Anon(cfg.Playback.Memory)
	if err != nil {
		return fmt.Errorf("node: could not allocate trace memory: %w", err)
	}
	n.mem.telem, err = mmap.Anon(cfg.Analyzer.Memory)
	if err != nil {
		return fmt.Errorf("node: could not allocate telemetry memory: %w", err)
	}
	n.mem.aux, err = mmap.Anon(cfg.Aux.Memory)
	if err != nil {
		return fmt.Errorf("node: could not allocate aux memory: %w", err)
	}

	opts := []analyzer.Option{
		analyzer.WithLogger(n.msg),
		analyzer.WithBusWidth(cfg.Analyzer.BusWidth),
		analyzer.WithQueueDepth(cfg.Analyzer.QueueDepth),
		analyzer.WithLogChannel(cfg.Analyzer.LogChannel),
	}
	if c, ok := n.core.(cri.Counter); ok {
		opts = append(opts, analyzer.WithCounter(c))
	}
	n.ana, err = analyzer.New(n.mem.telem, opts...)
	if err != nil {
		return fmt.Errorf("node: could not create analyzer: %w", err)
	}
	err = n.ana.Configure(0, int64(cfg.Analyzer.Memory)-1)
	if err != nil {
		return fmt.Errorf("node: could not configure analyzer: %w", err)
	}
	n.detach = n.bus.Attach(n.ana)

	n.eng = playback.New(
		n.mem.trace, n.cli,
		playback.WithLogger(n.msg),
		playback.WithBurstSize(cfg.Playback.Burst),
		playback.WithPrefetch(cfg.Playback.Prefetch),
	)

	n.store, err = tracedb.NewStore(n.mem.trace, 0, int64(cfg.Playback.Memory))
	if err != nil {
		return fmt.Errorf("node: could not create trace store: %w", err)
	}

	if cfg.TraceDB.DSN != "" {
		n.db, err = tracedb.Open(cfg.TraceDB.DSN)
		if err != nil {
			return fmt.Errorf("node: could not open trace db: %w", err)
		}
	}

	n.aux, err = auxlink.New(
		n.mem.aux, 0,
		auxlink.WithLogger(n.msg),
		auxlink.WithPacketSize(cfg.Aux.PacketSize),
		auxlink.WithBufferCount(cfg.Aux.Count),
	)
	if err != nil {
		return fmt.Errorf("node: could not create aux link controller: %w", err)
	}

	return nil
}

// dumpService reports whether the analyzer is owned by the dump service.
func (n *Node) dumpService() bool {
	return n.cfg.Analyzer.Addr != ""
}

// Init prepares the trace database and places the configured trace, if
// any, into trace memory.
func (n *Node) Init(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.eng == nil {
		return fmt.Errorf("node: not configured")
	}

	if n.db != nil {
		err := n.db.Init(ctx)
		if err != nil {
			return fmt.Errorf("node: could not initialize trace db: %w", err)
		}
	}

	n.trace = nil
	if name := n.cfg.Playback.Trace; name != "" {
		e, err := n.load(ctx, name)
		if err != nil {
			return fmt.Errorf("node: could not load trace %q: %w", name, err)
		}
		n.trace = &e
		n.msg.Printf("trace %q: %d bytes at 0x%x", e.Name, e.Len, e.Addr)
	}
	return nil
}

// load places the trace named name into trace memory. name is looked up
// first as a file, then in the trace database.
func (n *Node) load(ctx context.Context, name string) (tracedb.Entry, error) {
	tr, err := n.readTrace(ctx, name)
	if err != nil {
		return tracedb.Entry{}, err
	}

	_, err = tr.Records()
	if err != nil {
		return tracedb.Entry{}, err
	}

	return n.store.Put(tr)
}

func (n *Node) readTrace(ctx context.Context, name string) (tracedb.Trace, error) {
	raw, err := os.ReadFile(name)
	switch {
	case err == nil:
		tr := tracedb.Trace{Name: name, Data: raw}
		if n.db != nil {
			err = n.db.Save(ctx, tr)
			if err != nil {
				return tr, err
			}
		}
		return tr, nil
	case errors.Is(err, os.ErrNotExist) && n.db != nil:
		return n.db.Load(ctx, name)
	default:
		return tracedb.Trace{}, err
	}
}

// Start arms the analyzer and starts replaying the loaded trace.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.eng == nil {
		return fmt.Errorf("node: not configured")
	}

	if !n.dumpService() {
		err := n.ana.Reset()
		if err != nil {
			return fmt.Errorf("node: could not reset analyzer: %w", err)
		}
		err = n.ana.Enable()
		if err != nil {
			return fmt.Errorf("node: could not arm analyzer: %w", err)
		}
	}

	if n.trace == nil {
		return nil
	}

	offset := n.cfg.Playback.Offset
	if c, ok := n.core.(cri.Counter); ok {
		offset += int64(c.Counter())
	}
	err := n.eng.Enable(n.trace.Addr, offset)
	if err != nil {
		return fmt.Errorf("node: could not start playback: %w", err)
	}
	return nil
}

// Stop stops the playback, disarms the analyzer and publishes its dump.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.eng == nil {
		return fmt.Errorf("node: not configured")
	}

	n.eng.Disable()
	perr := n.eng.Wait()
	if perr != nil {
		n.msg.Printf("playback failed: %+v", perr)
		n.notify("playback failure", perr.Error())
	}

	if !n.dumpService() {
		err := n.publish(ctx)
		if err != nil {
			return err
		}
	}

	if perr != nil {
		return fmt.Errorf("node: playback failed: %w", perr)
	}
	return nil
}

func (n *Node) publish(ctx context.Context) error {
	n.ana.Disable()
	err := n.ana.Wait(ctx)
	if err != nil {
		return fmt.Errorf("node: could not drain analyzer: %w", err)
	}

	if n.ana.BusError() {
		n.notify("analyzer bus error", "telemetry buffer write failed")
	}

	dump, err := n.ana.Snapshot(n.mem.telem)
	if err != nil {
		return fmt.Errorf("node: could not snapshot telemetry buffer: %w", err)
	}

	buf := new(bytes.Buffer)
	err = analyzer.WriteDump(buf, dump)
	if err != nil {
		return fmt.Errorf("node: could not encode analyzer dump: %w", err)
	}

	// keep only the latest dump.
	select {
	case <-n.dumps:
	default:
	}
	n.dumps <- buf.Bytes()
	return nil
}

// Dump returns the analyzer dump published by the last Stop.
func (n *Node) Dump(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw := <-n.dumps:
		return raw, nil
	}
}

// Play replays trace synchronously at offset, without going through the
// trace database.
func (n *Node) Play(ctx context.Context, trace []byte, offset int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.eng == nil {
		return fmt.Errorf("node: not configured")
	}

	_, err := record.Unmarshal(trace)
	if err != nil {
		return fmt.Errorf("node: invalid trace: %w", err)
	}
	e, err := n.store.Put(tracedb.Trace{Name: "", Data: trace})
	if err != nil {
		return fmt.Errorf("node: could not place trace: %w", err)
	}
	defer n.store.Erase(e.Name)

	return n.eng.Play(ctx, e.Addr, offset)
}

// Run serves the auxiliary link and the analyzer dump service, if
// configured, until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	aux, ana, telem := n.aux, n.ana, n.mem.telem
	n.mu.Unlock()

	if aux == nil {
		return fmt.Errorf("node: not configured")
	}

	var dsrv *analyzer.Server
	if n.dumpService() {
		var err error
		dsrv, err = analyzer.NewServer(
			n.cfg.Analyzer.Addr, ana, telem,
			analyzer.WithLogger(n.msg),
		)
		if err != nil {
			return fmt.Errorf("node: could not create analyzer dump server: %w", err)
		}
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if dsrv != nil {
		grp.Go(func() error {
			<-ctx.Done()
			return dsrv.Close()
		})
		grp.Go(func() error {
			return dsrv.Serve()
		})
	}

	if n.cfg.Aux.Listen != "" || n.cfg.Aux.Dial != "" {
		grp.Go(func() error {
			return n.runAux(ctx, aux)
		})
	}

	err := grp.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (n *Node) runAux(ctx context.Context, aux *auxlink.Controller) error {
	for {
		conn, err := n.dialAux(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		n.msg.Printf("aux link up with %v", conn.RemoteAddr())

		err = auxlink.NewTransport(conn, aux).Run(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			n.msg.Printf("aux link with %v failed: %+v", conn.RemoteAddr(), err)
		default:
			n.msg.Printf("aux link with %v closed by peer", conn.RemoteAddr())
		}
	}
}

func (n *Node) dialAux(ctx context.Context) (net.Conn, error) {
	if addr := n.cfg.Aux.Dial; addr != "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("node: could not dial aux link %q: %w", addr, err)
		}
		return conn, nil
	}

	addr := n.cfg.Aux.Listen
	var lc net.ListenConfig
	srv, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("node: could not listen for aux link on %q: %w", addr, err)
	}
	defer srv.Close()

	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	conn, err := srv.Accept()
	if err != nil {
		return nil, fmt.Errorf("node: could not accept aux link: %w", err)
	}
	return conn, nil
}

// Aux returns the auxiliary link controller.
func (n *Node) Aux() *auxlink.Controller {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aux
}

// Analyzer returns the telemetry analyzer.
func (n *Node) Analyzer() *analyzer.Analyzer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ana
}

// Client returns a client issuing commands through the snooped bus.
func (n *Node) Client() *cri.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cli
}

// Close releases all the resources of the node.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.release()
}

func (n *Node) release() error {
	if n.eng != nil {
		n.eng.Disable()
	}
	if n.ana != nil {
		n.ana.Disable()
		_ = n.ana.Wait(context.Background())
	}
	if n.detach != nil {
		n.detach()
	}

	var errs []error
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}
	for _, h := range []*mmap.Handle{n.mem.regs, n.mem.trace, n.mem.telem, n.mem.aux} {
		if h == nil {
			continue
		}
		errs = append(errs, h.Close())
	}

	n.mem.regs, n.mem.trace, n.mem.telem, n.mem.aux = nil, nil, nil, nil
	n.core, n.bus, n.cli = nil, nil, nil
	n.ana, n.detach, n.eng, n.store = nil, nil, nil, nil
	n.db, n.aux, n.trace = nil, nil, nil

	return errors.Join(errs...)
}

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package playback replays Event Record streams stored in trace memory,
// issuing one output command at a time, in record order.
package playback // import "github.com/go-lpc/rtio/playback"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/rtio/cri"
	"github.com/go-lpc/rtio/record"
)

// State is the state of the playback engine.
type State uint8

const (
	Idle      State = iota
	Streaming       // reading, decoding and issuing records
	Draining        // end marker seen, waiting for the last command
	Flushing        // discarding outstanding trace reads
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Flushing:
		return "flushing"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

type config struct {
	msg      *log.Logger
	burst    int
	prefetch int
}

func newConfig() config {
	return config{
		msg:      log.New(os.Stdout, "playback: ", 0),
		burst:    128,
		prefetch: 4,
	}
}

// Option configures a playback engine.
type Option func(*config)

// WithLogger sets the logger used by the engine.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) { cfg.msg = msg }
}

// WithBurstSize sets the size, in bytes, of trace memory reads.
func WithBurstSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.burst = n
		}
	}
}

// WithPrefetch sets the number of trace memory reads allowed in flight
// ahead of the decoder.
func WithPrefetch(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.prefetch = n
		}
	}
}

// Engine replays traces from trace memory.
type Engine struct {
	mem io.ReaderAt
	w   cri.Writer
	msg *log.Logger
	cfg config

	mu      sync.Mutex
	state   State
	enabled bool
	quit    chan struct{}
	done    chan struct{}
	err     *Error
	anchor  uint64
	issued  int
}

// New returns a playback engine reading traces from mem and issuing
// commands through w.
func New(mem io.ReaderAt, w cri.Writer, opts ...Option) *Engine {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	done := make(chan struct{})
	close(done)
	return &Engine{
		mem:  mem,
		w:    w,
		msg:  cfg.msg,
		cfg:  cfg,
		done: done,
	}
}

// Play replays the trace located at base, shifting every timestamp by
// offset. Play blocks until the end of the trace, a fatal error or the
// cancellation of ctx.
func (eng *Engine) Play(ctx context.Context, base, offset int64) error {
	quit, done, err := eng.start()
	if err != nil {
		return err
	}
	return eng.run(ctx, base, offset, quit, done)
}

// Enable starts replaying the trace located at base in the background.
// Enable fails with ErrBusy unless the engine is idle.
func (eng *Engine) Enable(base, offset int64) error {
	quit, done, err := eng.start()
	if err != nil {
		return err
	}
	go func() {
		_ = eng.run(context.Background(), base, offset, quit, done)
	}()
	return nil
}

// Enabled reports whether a session is running.
func (eng *Engine) Enabled() bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.enabled
}

// Disable aborts the running session, if any, after the in-flight command
// resolved. Disable returns once the engine is idle.
func (eng *Engine) Disable() {
	eng.mu.Lock()
	if eng.enabled {
		eng.enabled = false
		close(eng.quit)
	}
	done := eng.done
	eng.mu.Unlock()
	<-done
}

// Wait waits for the current session to terminate and returns its
// latched error, if any.
func (eng *Engine) Wait() error {
	eng.mu.Lock()
	done := eng.done
	eng.mu.Unlock()
	<-done

	if err := eng.Err(); err != nil {
		return err
	}
	return nil
}

// State returns the current state of the engine.
func (eng *Engine) State() State {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.state
}

// Err returns the error latched by the last failed session.
func (eng *Engine) Err() *Error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.err
}

// ClearError clears the latched error.
func (eng *Engine) ClearError() {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.err = nil
}

// Anchor returns the raw timestamp of the first record of the current
// (or last) session.
func (eng *Engine) Anchor() uint64 {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.anchor
}

// Issued returns the number of commands issued by the current (or last)
// session.
func (eng *Engine) Issued() int {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.issued
}

func (eng *Engine) start() (chan struct{}, chan struct{}, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.state != Idle || eng.enabled {
		return nil, nil, ErrBusy
	}

	eng.state = Streaming
	eng.enabled = true
	eng.quit = make(chan struct{})
	eng.done = make(chan struct{})
	eng.err = nil
	eng.anchor = 0
	eng.issued = 0
	return eng.quit, eng.done, nil
}

func (eng *Engine) setState(st State) {
	eng.mu.Lock()
	eng.state = st
	eng.mu.Unlock()
}

func (eng *Engine) run(ctx context.Context, base, offset int64, quit, done chan struct{}) error {
	defer close(done)

	pf := newPrefetcher(eng.mem, base, eng.cfg.burst, eng.cfg.prefetch)
	err := eng.stream(ctx, pf, offset, quit)

	eng.setState(Flushing)
	pf.flush()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.state = Idle
	eng.enabled = false

	var e *Error
	switch {
	case err == nil:
		eng.msg.Printf("trace done: %d commands issued", eng.issued)
		return nil
	case errors.As(err, &e):
		eng.err = e
		eng.msg.Printf("trace aborted: %+v", e)
		return e
	default:
		eng.msg.Printf("trace aborted after %d commands: %+v", eng.issued, err)
		return err
	}
}

func (eng *Engine) stream(ctx context.Context, r io.Reader, offset int64, quit chan struct{}) error {
	var (
		dec = record.NewDecoder(r)
		rec record.Record
	)

	for {
		select {
		case <-quit:
			return ErrAborted
		case <-ctx.Done():
			return fmt.Errorf("playback: aborted: %w", ctx.Err())
		default:
		}

		var (
			idx = dec.Index()
			off = dec.Offset()
		)
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				eng.setState(Draining)
				return nil
			}
			return &Error{
				Code:   codeOf(err),
				Index:  idx,
				Offset: off,
				Err:    err,
			}
		}

		cmd := rec.Command()
		cmd.Timestamp += uint64(offset)

		eng.mu.Lock()
		if idx == 0 {
			eng.anchor = rec.Timestamp
		}
		eng.issued++
		eng.mu.Unlock()

		// once issued, a command is always waited out.
		err = eng.w.Write(context.WithoutCancel(ctx), cmd)
		if err != nil {
			return &Error{
				Code:      codeOf(err),
				Index:     idx,
				Offset:    off,
				Channel:   cmd.Channel,
				Timestamp: cmd.Timestamp,
				Err:       err,
			}
		}
	}
}

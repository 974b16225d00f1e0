// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracedb records output commands into named Event Record traces,
// places traces into trace memory and persists them in a SQL database.
package tracedb // import "github.com/go-lpc/rtio/tracedb"

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-lpc/rtio/cri"
	"github.com/go-lpc/rtio/record"
)

var (
	ErrRecording    = errors.New("tracedb: already recording")
	ErrNotRecording = errors.New("tracedb: not recording")
	ErrNotFound     = errors.New("tracedb: no such trace")
	ErrNoSpace      = errors.New("tracedb: not enough trace memory")
)

// Trace is a named, complete Event Record stream.
type Trace struct {
	Name     string
	Data     []byte // records, end marker included
	Duration uint64 // duration of the trace, in machine units
}

// Records decodes the records of the trace.
func (tr Trace) Records() ([]record.Record, error) {
	return record.Unmarshal(tr.Data)
}

// Recorder captures output commands into a trace instead of issuing them.
type Recorder struct {
	mu   sync.Mutex
	name string
	on   bool
	buf  []byte
}

// NewRecorder returns an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start starts recording a trace named name.
func (rec *Recorder) Start(name string) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.on {
		return fmt.Errorf("%w (trace %q)", ErrRecording, rec.name)
	}
	rec.name = name
	rec.on = true
	rec.buf = rec.buf[:0]
	return nil
}

// Recording reports whether a trace is being recorded.
func (rec *Recorder) Recording() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.on
}

// Write appends cmd to the trace being recorded.
func (rec *Recorder) Write(ctx context.Context, cmd cri.Command) error {
	err := cmd.Validate()
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.on {
		return ErrNotRecording
	}
	rec.buf, err = record.Append(rec.buf, record.FromCommand(cmd))
	if err != nil {
		return fmt.Errorf("tracedb: could not record command: %w", err)
	}
	return nil
}

// Stop terminates the recording and returns the recorded trace.
func (rec *Recorder) Stop(duration uint64) (Trace, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.on {
		return Trace{}, ErrNotRecording
	}
	rec.on = false

	data := make([]byte, len(rec.buf)+1)
	copy(data, rec.buf)
	data[len(rec.buf)] = record.EndMarker

	return Trace{
		Name:     rec.name,
		Data:     data,
		Duration: duration,
	}, nil
}

var (
	_ cri.Writer = (*Recorder)(nil)
)

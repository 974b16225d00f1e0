// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/rtio/analyzer"
	"github.com/go-lpc/rtio/auxlink"
	"github.com/go-lpc/rtio/config"
	"github.com/go-lpc/rtio/cri"
	"github.com/go-lpc/rtio/playback"
	"github.com/go-lpc/rtio/record"
)

func testTrace(t *testing.T) []byte {
	t.Helper()
	raw, err := record.Marshal([]record.Record{
		{Channel: 1, Timestamp: 100, Data: []byte{0x11}},
		{Channel: 2, Timestamp: 200, Address: 3, Data: []byte{0x22, 0x01}},
		{Channel: 3, Timestamp: 300},
	})
	if err != nil {
		t.Fatalf("could not marshal trace: %+v", err)
	}
	return raw
}

func newTestNode(t *testing.T, cfg config.Config, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	n := New(cfg, opts...)
	err := n.Configure()
	if err != nil {
		t.Fatalf("could not configure node: %+v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func readDump(t *testing.T, n *Node) []analyzer.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := n.Dump(ctx)
	if err != nil {
		t.Fatalf("could not retrieve dump: %+v", err)
	}
	dump, err := analyzer.ReadDump(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("could not decode dump: %+v", err)
	}
	msgs, err := dump.Messages()
	if err != nil {
		t.Fatalf("could not decode messages: %+v", err)
	}
	return msgs
}

func TestNodeRun(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "ramp.rec")
	err := os.WriteFile(fname, testTrace(t), 0644)
	if err != nil {
		t.Fatalf("could not create trace file: %+v", err)
	}

	cfg := config.Default()
	cfg.Playback.Trace = fname
	cfg.Playback.Offset = 1000

	n := newTestNode(t, cfg)
	ctx := context.Background()

	err = n.Init(ctx)
	if err != nil {
		t.Fatalf("could not init node: %+v", err)
	}
	if n.trace == nil {
		t.Fatalf("trace not loaded")
	}

	err = n.Start(ctx)
	if err != nil {
		t.Fatalf("could not start node: %+v", err)
	}

	err = n.eng.Wait()
	if err != nil {
		t.Fatalf("playback failed: %+v", err)
	}

	err = n.Stop(ctx)
	if err != nil {
		t.Fatalf("could not stop node: %+v", err)
	}

	msgs := readDump(t, n)
	if got, want := len(msgs), 4; got != want {
		t.Fatalf("invalid number of messages: got=%d, want=%d\n%v", got, want, msgs)
	}
	for i, want := range []struct {
		ch   uint32
		ts   uint64
		data uint64
	}{
		{1, 1100, 0x11},
		{2, 1200, 0x0122},
		{3, 1300, 0},
	} {
		msg := msgs[i]
		if msg.Kind != analyzer.KindOutput {
			t.Fatalf("msg[%d]: invalid kind: got=%v, want=%v", i, msg.Kind, analyzer.KindOutput)
		}
		if msg.Channel != want.ch || msg.Timestamp != want.ts || msg.Data != want.data {
			t.Fatalf("msg[%d]: invalid message: got=%v", i, msg)
		}
	}
	if got, want := msgs[3].Kind, analyzer.KindStopped; got != want {
		t.Fatalf("invalid last message: got=%v, want=%v", got, want)
	}
}

func TestNodeUnderflow(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "ramp.rec")
	err := os.WriteFile(fname, testTrace(t), 0644)
	if err != nil {
		t.Fatalf("could not create trace file: %+v", err)
	}

	cfg := config.Default()
	cfg.Playback.Trace = fname
	cfg.Playback.Offset = -5000

	var alerts []string
	n := newTestNode(t, cfg, WithAlerter(func(subject, body string) error {
		alerts = append(alerts, subject)
		return nil
	}))
	n.core.(*cri.Sim).SetCounter(10000)

	ctx := context.Background()
	err = n.Init(ctx)
	if err != nil {
		t.Fatalf("could not init node: %+v", err)
	}
	err = n.Start(ctx)
	if err != nil {
		t.Fatalf("could not start node: %+v", err)
	}
	_ = n.eng.Wait()

	err = n.Stop(ctx)
	if err == nil {
		t.Fatalf("expected a playback error")
	}
	var perr *playback.Error
	if !errors.As(err, &perr) {
		t.Fatalf("invalid error type %T: %+v", err, err)
	}
	if got, want := perr.Code, playback.CodeUnderflow; got != want {
		t.Fatalf("invalid error code: got=%v, want=%v", got, want)
	}
	if got, want := alerts, []string{"playback failure"}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("invalid alerts: got=%q, want=%q", got, want)
	}

	msgs := readDump(t, n)
	if got, want := len(msgs), 2; got != want {
		t.Fatalf("invalid number of messages: got=%d, want=%d\n%v", got, want, msgs)
	}
	if got, want := msgs[0].Kind, analyzer.KindException; got != want {
		t.Fatalf("invalid message kind: got=%v, want=%v", got, want)
	}
	if got, want := msgs[0].Data, uint64(analyzer.ExcUnderflow); got != want {
		t.Fatalf("invalid exception code: got=%d, want=%d", got, want)
	}
}

func TestNodePlay(t *testing.T) {
	n := newTestNode(t, config.Default())
	sim := n.core.(*cri.Sim)

	err := n.Play(context.Background(), testTrace(t), 50)
	if err != nil {
		t.Fatalf("could not play trace: %+v", err)
	}

	outs := sim.Outputs()
	if got, want := len(outs), 3; got != want {
		t.Fatalf("invalid number of outputs: got=%d, want=%d", got, want)
	}
	for i, want := range []uint64{150, 250, 350} {
		if got := outs[i].Timestamp; got != want {
			t.Fatalf("output[%d]: invalid timestamp: got=%d, want=%d", i, got, want)
		}
	}

	if got := n.store.Names(); len(got) != 0 {
		t.Fatalf("trace memory should be released: %q", got)
	}

	err = n.Play(context.Background(), []byte{42}, 0)
	if err == nil {
		t.Fatalf("expected an error for a malformed trace")
	}
}

func TestNodeNotConfigured(t *testing.T) {
	n := New(config.Default(), WithLogger(log.New(io.Discard, "", 0)))
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		f    func() error
	}{
		{"init", func() error { return n.Init(ctx) }},
		{"start", func() error { return n.Start(ctx) }},
		{"stop", func() error { return n.Stop(ctx) }},
		{"run", func() error { return n.Run(ctx) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f()
			if err == nil || !strings.Contains(err.Error(), "not configured") {
				t.Fatalf("invalid error: %+v", err)
			}
		})
	}
}

func TestNodeAuxLink(t *testing.T) {
	srv, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not create peer: %+v", err)
	}
	defer srv.Close()

	cfg := config.Default()
	cfg.Aux.Dial = srv.Addr().String()
	n := newTestNode(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()

	conn, err := srv.Accept()
	if err != nil {
		t.Fatalf("could not accept aux link: %+v", err)
	}
	defer conn.Close()

	frame, err := auxlink.AppendFrame(nil, []byte("ping"))
	if err != nil {
		t.Fatalf("could not frame packet: %+v", err)
	}
	_, err = conn.Write(frame)
	if err != nil {
		t.Fatalf("could not send frame: %+v", err)
	}

	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	defer rcancel()
	p, err := n.Aux().Recv(rctx)
	if err != nil {
		t.Fatalf("could not receive packet: %+v", err)
	}
	if got, want := string(p), "ping"; got != want {
		t.Fatalf("invalid packet: got=%q, want=%q", got, want)
	}

	err = n.Aux().Send(rctx, []byte("pong"))
	if err != nil {
		t.Fatalf("could not send packet: %+v", err)
	}
	p, err = auxlink.ReadFrame(conn)
	if err != nil {
		t.Fatalf("could not read frame: %+v", err)
	}
	if got, want := string(p), "pong"; got != want {
		t.Fatalf("invalid packet: got=%q, want=%q", got, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("could not run node: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node did not stop")
	}
}

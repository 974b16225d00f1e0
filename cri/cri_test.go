// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCommandValidate(t *testing.T) {
	for _, tc := range []struct {
		cmd  Command
		want error
	}{
		{cmd: Command{Op: Write, Channel: 1, Data: 0xff, Size: 1}},
		{cmd: Command{Op: Write, Channel: MaxChannel, Data: 0xffffffffffffffff, Size: 8}},
		{cmd: Command{Op: Write, Channel: 1}},
		{
			cmd:  Command{Op: Write, Channel: MaxChannel + 1},
			want: fmt.Errorf("cri: channel 0x1000000 out of range"),
		},
		{
			cmd:  Command{Op: Write, Channel: 1, Size: 9},
			want: fmt.Errorf("cri: invalid payload size 9"),
		},
		{
			cmd:  Command{Op: Write, Channel: 1, Data: 0x100, Size: 1},
			want: fmt.Errorf("cri: payload 0x100 does not fit in 1 bytes"),
		},
	} {
		t.Run("", func(t *testing.T) {
			err := tc.cmd.Validate()
			switch {
			case err == nil && tc.want == nil:
				// ok
			case err != nil && tc.want != nil:
				if got, want := err.Error(), tc.want.Error(); got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
			default:
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.want)
			}
		})
	}
}

func TestCommandTarget(t *testing.T) {
	cmd := Command{Channel: 0x123456, Address: 0x78}
	if got, want := cmd.Target(), uint32(0x12345678); got != want {
		t.Fatalf("invalid target: got=0x%x, want=0x%x", got, want)
	}
}

func TestOpcode(t *testing.T) {
	for _, tc := range []struct {
		op   Opcode
		want string
	}{
		{Nop, "nop"},
		{Write, "write"},
		{Read, "read"},
		{Opcode(42), "Opcode(42)"},
	} {
		if got := tc.op.String(); got != tc.want {
			t.Fatalf("invalid opcode name: got=%q, want=%q", got, tc.want)
		}
	}
}

func TestError(t *testing.T) {
	for _, tc := range []struct {
		err  *Error
		want string
	}{
		{
			err:  &Error{Op: Write, Channel: 2, Timestamp: 100, Slack: -20, Err: ErrUnderflow},
			want: "cri: underflow at 100 mu, channel 0x000002, slack -20 mu",
		},
		{
			err:  &Error{Op: Read, Channel: 3, Timestamp: 10, Err: ErrDestinationUnreachable},
			want: "cri: destination unreachable, input, at 10 mu, channel 0x000003",
		},
		{
			err:  &Error{Op: Read, Channel: 4, Err: ErrOverflow},
			want: "cri: input overflow on channel 0x000004",
		},
		{
			err:  &Error{Op: Read, Channel: 5, Timestamp: 7, Err: ErrEmpty},
			want: "cri: no input data (read, channel 0x000005, t=7 mu)",
		},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("invalid error message:\ngot= %s\nwant=%s", got, tc.want)
			}
			if !errors.Is(tc.err, tc.err.Err) {
				t.Fatalf("error does not unwrap to %v", tc.err.Err)
			}
		})
	}
}

func TestClientWrite(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(WithCounter(100), WithLatency(3), WithUnreachable(7))
	cli := NewClient(sim)

	err := cli.Write(ctx, Command{Channel: 1, Timestamp: 200, Data: 0xca, Size: 1})
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	err = cli.Write(ctx, Command{Channel: 1, Timestamp: 50, Data: 1, Size: 1})
	if !errors.Is(err, ErrUnderflow) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrUnderflow)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("invalid error type: %T", err)
	}
	if got, want := e.Slack, int64(-50); got != want {
		t.Fatalf("invalid slack: got=%d, want=%d", got, want)
	}

	err = cli.Write(ctx, Command{Channel: 7, Timestamp: 300})
	if !errors.Is(err, ErrDestinationUnreachable) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrDestinationUnreachable)
	}

	err = cli.Write(ctx, Command{Channel: 1, Timestamp: 300, Data: 0x1ff, Size: 1})
	if err == nil {
		t.Fatalf("expected a validation error")
	}

	outs := sim.Outputs()
	if got, want := len(outs), 1; got != want {
		t.Fatalf("invalid number of outputs: got=%d, want=%d", got, want)
	}
	if got, want := outs[0], (Command{Op: Write, Channel: 1, Timestamp: 200, Data: 0xca, Size: 1}); got != want {
		t.Fatalf("invalid output:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestClientWriteCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := NewSim(WithLatency(1 << 30))
	cli := NewClient(sim)
	err := cli.Write(ctx, Command{Channel: 1, Timestamp: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid error: got=%v, want=%v", err, context.Canceled)
	}
}

func TestClientRead(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(WithTick(1), WithInputDepth(2), WithUnreachable(9))
	cli := NewClient(sim)

	sim.Inject(3, 10, 0xaa)
	sim.Inject(3, 20, 0xbb)

	for _, want := range []Event{{10, 0xaa}, {20, 0xbb}} {
		got, err := cli.Read(ctx, 3, 0, 1000)
		if err != nil {
			t.Fatalf("could not read: %+v", err)
		}
		if got != want {
			t.Fatalf("invalid event: got=%+v, want=%+v", got, want)
		}
	}

	_, err := cli.Read(ctx, 3, 0, 50)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrEmpty)
	}

	sim.Inject(4, 1, 1)
	sim.Inject(4, 2, 2)
	sim.Inject(4, 3, 3)
	_, err = cli.Read(ctx, 4, 0, 1000)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrOverflow)
	}

	_, err = cli.Read(ctx, 9, 0, 1000)
	if !errors.Is(err, ErrDestinationUnreachable) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrDestinationUnreachable)
	}
}

func TestClientReadPending(t *testing.T) {
	ctx := context.Background()
	sim := NewSim(WithTick(1))
	cli := NewClient(sim)

	done := make(chan error)
	go func() {
		evt, err := cli.Read(ctx, 5, 0, 1<<62)
		if err == nil && evt.Data != 42 {
			err = fmt.Errorf("invalid data: got=%d, want=42", evt.Data)
		}
		done <- err
	}()

	sim.Inject(5, 12, 42)
	if err := <-done; err != nil {
		t.Fatalf("could not read: %+v", err)
	}
}

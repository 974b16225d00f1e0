// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"testing"
)

func TestOutputStatus(t *testing.T) {
	for _, tc := range []struct {
		bits   uint8
		want   OutputStatus
		str    string
		failed bool
	}{
		{0, OutputStatus{}, "ok", false},
		{1, OutputStatus{Wait: true}, "wait", false},
		{2, OutputStatus{Underflow: true}, "underflow", true},
		{4, OutputStatus{DestinationUnreachable: true}, "unreachable", true},
		{6, OutputStatus{Underflow: true, DestinationUnreachable: true}, "underflow|unreachable", true},
	} {
		t.Run(tc.str, func(t *testing.T) {
			got := OutputStatusFrom(tc.bits)
			if got != tc.want {
				t.Fatalf("invalid status: got=%+v, want=%+v", got, tc.want)
			}
			if got, want := got.Bits(), tc.bits; got != want {
				t.Fatalf("invalid bits: got=0x%x, want=0x%x", got, want)
			}
			if got, want := got.String(), tc.str; got != want {
				t.Fatalf("invalid string: got=%q, want=%q", got, want)
			}
			if got, want := got.Failed(), tc.failed; got != want {
				t.Fatalf("invalid failed: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestInputStatus(t *testing.T) {
	for _, tc := range []struct {
		bits   uint8
		want   InputStatus
		str    string
		failed bool
	}{
		{0, InputStatus{}, "ok", false},
		{1, InputStatus{Empty: true}, "empty", true},
		{2, InputStatus{Overflow: true}, "overflow", true},
		{4, InputStatus{Wait: true}, "wait", false},
		{8, InputStatus{DestinationUnreachable: true}, "unreachable", true},
	} {
		t.Run(tc.str, func(t *testing.T) {
			got := InputStatusFrom(tc.bits)
			if got != tc.want {
				t.Fatalf("invalid status: got=%+v, want=%+v", got, tc.want)
			}
			if got, want := got.Bits(), tc.bits; got != want {
				t.Fatalf("invalid bits: got=0x%x, want=0x%x", got, want)
			}
			if got, want := got.String(), tc.str; got != want {
				t.Fatalf("invalid string: got=%q, want=%q", got, want)
			}
			if got, want := got.Failed(), tc.failed; got != want {
				t.Fatalf("invalid failed: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestReplyPending(t *testing.T) {
	rep := Reply{Output: OutputStatus{Wait: true}}
	if !rep.Pending(Write) {
		t.Fatalf("write should be pending")
	}
	if rep.Pending(Read) {
		t.Fatalf("read should not be pending")
	}
	if rep.Pending(Nop) {
		t.Fatalf("nop should never be pending")
	}
}

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtio holds the timed-I/O control core: the command protocol used
// to reach the timeline core, the event record codec, the trace playback
// engine, the telemetry analyzer and the auxiliary link packet controller.
package rtio // import "github.com/go-lpc/rtio"

import (
	"runtime/debug"
)

const modpath = "github.com/go-lpc/rtio"

// Version returns the version of the rtio module linked in the running
// binary, followed by the VCS revision it was built from, when known.
// The returned value is empty in binaries built without module support.
func Version() string {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) string {
	if b == nil {
		return ""
	}

	mod := &b.Main
	if mod.Path != modpath {
		mod = nil
		for _, dep := range b.Deps {
			if dep.Path == modpath {
				mod = dep
				break
			}
		}
	}
	if mod == nil {
		return ""
	}
	if mod.Replace != nil {
		mod = mod.Replace
	}

	vers := mod.Version
	if vers == "" {
		vers = "(devel)"
	}

	var rev, dirty string
	for _, kv := range b.Settings {
		switch kv.Key {
		case "vcs.revision":
			rev = kv.Value
		case "vcs.modified":
			if kv.Value == "true" {
				dirty = "+dirty"
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev == "" {
		return vers
	}
	return vers + " (" + rev + dirty + ")"
}

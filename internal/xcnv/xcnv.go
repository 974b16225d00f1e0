// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert analyzer dumps to/from LCIO.
//
// Each dump is stored as one LCIO event holding a single generic object
// collection. Each telemetry message is one generic object made of the
// int32 words:
//
//	[kind, channel, address, cnt-lo, cnt-hi, ts-lo, ts-hi, data-lo, data-hi]
package xcnv // import "github.com/go-lpc/rtio/internal/xcnv"

const (
	// Collection is the name of the LCIO collection holding telemetry.
	Collection = "RTIO_TELEMETRY"

	// Detector is the detector name stored in LCIO headers.
	Detector = "RTIO"

	nwords = 9
)

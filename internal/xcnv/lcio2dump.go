// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"

	"github.com/go-lpc/rtio/analyzer"
	"go-hep.org/x/hep/lcio"
)

// LCIO2Messages reads back the telemetry messages of every event of r.
func LCIO2Messages(r *lcio.Reader) ([][]analyzer.Message, error) {
	var o [][]analyzer.Message
	for i := 0; r.Next(); i++ {
		evt := r.Event()
		if !evt.Has(Collection) {
			return o, fmt.Errorf("event %d: no %q collection", i, Collection)
		}
		obj, ok := evt.Get(Collection).(*lcio.GenericObject)
		if !ok {
			return o, fmt.Errorf("event %d: invalid %q collection type %T", i, Collection, evt.Get(Collection))
		}

		msgs := make([]analyzer.Message, len(obj.Data))
		for j, data := range obj.Data {
			if len(data.I32s) != nwords {
				return o, fmt.Errorf(
					"event %d: invalid message %d length (got=%d, want=%d)",
					i, j, len(data.I32s), nwords,
				)
			}
			msgs[j] = messageFrom(data.I32s)
		}
		o = append(o, msgs)
	}
	return o, nil
}

func messageFrom(v []int32) analyzer.Message {
	u64 := func(lo, hi int32) uint64 {
		return uint64(uint32(lo)) | uint64(uint32(hi))<<32
	}
	return analyzer.Message{
		Kind:      analyzer.Kind(v[0]),
		Channel:   uint32(v[1]),
		Address:   uint32(v[2]),
		Counter:   u64(v[3], v[4]),
		Timestamp: u64(v[5], v[6]),
		Data:      u64(v[7], v[8]),
	}
}

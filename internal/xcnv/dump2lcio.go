// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"
	"log"

	"github.com/go-lpc/rtio/analyzer"
	"go-hep.org/x/hep/lcio"
)

// Dump2LCIO writes dumps as the events of run into w.
func Dump2LCIO(w *lcio.Writer, dumps []analyzer.Dump, run int32, msg *log.Logger) error {
	err := w.WriteRunHeader(&lcio.RunHeader{
		RunNumber: run,
		Detector:  Detector,
		Descr:     "analyzer telemetry",
		Params: lcio.Params{
			Ints: map[string][]int32{
				"MessageLen": {analyzer.MessageLen},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("could not write run header: %w", err)
	}

	for i, d := range dumps {
		if i%100 == 0 {
			msg.Printf("processing dump %d...", i)
		}
		msgs, err := d.Messages()
		if err != nil {
			return fmt.Errorf("could not decode dump %d: %w", i, err)
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(i),
			Detector:    Detector,
			Params: lcio.Params{
				Ints: map[string][]int32{
					"SentBytes":  {d.SentBytes},
					"Error":      {b2i32(d.ErrorOccurred)},
					"LogChannel": {int32(d.LogChannel)},
					"DDSOneHot":  {b2i32(d.DDSOneHot)},
					"TotalByteCount": {
						int32(uint32(d.TotalByteCount)),
						int32(uint32(d.TotalByteCount >> 32)),
					},
				},
			},
		}
		if len(msgs) > 0 {
			evt.TimeStamp = int64(msgs[0].Counter)
		}

		obj := &lcio.GenericObject{
			Data: make([]lcio.GenericObjectData, len(msgs)),
		}
		for j, m := range msgs {
			obj.Data[j].I32s = i32sFrom(m)
		}
		evt.Add(Collection, obj)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write dump %d: %w", i, err)
		}
	}

	return nil
}

func i32sFrom(m analyzer.Message) []int32 {
	return []int32{
		int32(m.Kind),
		int32(m.Channel),
		int32(m.Address),
		int32(uint32(m.Counter)), int32(uint32(m.Counter >> 32)),
		int32(uint32(m.Timestamp)), int32(uint32(m.Timestamp >> 32)),
		int32(uint32(m.Data)), int32(uint32(m.Data >> 32)),
	}
}

func b2i32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

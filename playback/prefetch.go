// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package playback

import (
	"io"
	"sync"
)

type burst struct {
	data []byte
	err  error
}

// prefetcher reads trace memory ahead of the decoder, in fixed-size bursts.
// At most depth bursts are outstanding at any time.
type prefetcher struct {
	bursts chan burst
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	cur []byte
	err error
}

func newPrefetcher(mem io.ReaderAt, base int64, size, depth int) *prefetcher {
	pf := &prefetcher{
		bursts: make(chan burst, depth),
		quit:   make(chan struct{}),
	}
	pf.wg.Add(1)
	go pf.loop(mem, base, size)
	return pf
}

func (pf *prefetcher) loop(mem io.ReaderAt, off int64, size int) {
	defer pf.wg.Done()
	defer close(pf.bursts)

	for {
		buf := make([]byte, size)
		n, err := mem.ReadAt(buf, off)
		off += int64(n)

		if n > 0 {
			select {
			case pf.bursts <- burst{data: buf[:n]}:
			case <-pf.quit:
				return
			}
		}
		if err != nil {
			select {
			case pf.bursts <- burst{err: err}:
			case <-pf.quit:
			}
			return
		}
	}
}

func (pf *prefetcher) Read(p []byte) (int, error) {
	for len(pf.cur) == 0 {
		if pf.err != nil {
			return 0, pf.err
		}
		b, ok := <-pf.bursts
		if !ok {
			pf.err = io.EOF
			continue
		}
		pf.cur = b.data
		pf.err = b.err
	}
	n := copy(p, pf.cur)
	pf.cur = pf.cur[n:]
	return n, nil
}

// flush discards all outstanding bursts and stops the read-ahead.
func (pf *prefetcher) flush() {
	pf.once.Do(func() { close(pf.quit) })
	for range pf.bursts {
	}
	pf.wg.Wait()
	pf.cur = nil
}

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracedb

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Alignment is the alignment, in bytes, of traces placed in trace memory.
const Alignment = 128

// Entry describes a trace placed in trace memory.
type Entry struct {
	Name     string
	Addr     int64 // address of the first record
	Len      int   // trace length, end marker included
	Duration uint64
}

// Store places named traces in an arena of trace memory.
type Store struct {
	mem  io.WriterAt
	base int64
	size int64

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore creates a store managing [base, base+size) of mem.
func NewStore(mem io.WriterAt, base, size int64) (*Store, error) {
	if base%Alignment != 0 {
		return nil, fmt.Errorf("tracedb: arena base 0x%x not aligned on %d bytes", base, Alignment)
	}
	if size <= 0 {
		return nil, fmt.Errorf("tracedb: invalid arena size %d", size)
	}
	return &Store{
		mem:     mem,
		base:    base,
		size:    size,
		entries: make(map[string]Entry),
	}, nil
}

// Put writes tr into trace memory, replacing any trace with the same name.
func (st *Store) Put(tr Trace) (Entry, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	old, replace := st.entries[tr.Name]
	delete(st.entries, tr.Name)

	addr, ok := st.alloc(int64(len(tr.Data)))
	if !ok {
		if replace {
			st.entries[tr.Name] = old
		}
		return Entry{}, fmt.Errorf(
			"%w (trace %q, %d bytes)", ErrNoSpace, tr.Name, len(tr.Data),
		)
	}

	_, err := st.mem.WriteAt(tr.Data, addr)
	if err != nil {
		return Entry{}, fmt.Errorf("tracedb: could not write trace %q: %w", tr.Name, err)
	}

	e := Entry{
		Name:     tr.Name,
		Addr:     addr,
		Len:      len(tr.Data),
		Duration: tr.Duration,
	}
	st.entries[tr.Name] = e
	return e, nil
}

// alloc returns the first aligned free address able to hold n bytes.
func (st *Store) alloc(n int64) (int64, bool) {
	used := make([]Entry, 0, len(st.entries))
	for _, e := range st.entries {
		used = append(used, e)
	}
	sort.Slice(used, func(i, j int) bool { return used[i].Addr < used[j].Addr })

	var (
		end = st.base + st.size
		cur = st.base
	)
	for _, e := range used {
		if e.Addr-cur >= n {
			return cur, true
		}
		cur = align(e.Addr + int64(e.Len))
	}
	if end-cur >= n {
		return cur, true
	}
	return 0, false
}

func align(v int64) int64 {
	return (v + Alignment - 1) &^ (Alignment - 1)
}

// Get returns the entry of the trace named name.
func (st *Store) Get(name string) (Entry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.entries[name]
	return e, ok
}

// Erase removes the trace named name.
func (st *Store) Erase(name string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.entries[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(st.entries, name)
	return nil
}

// Names returns the sorted names of the stored traces.
func (st *Store) Names() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	names := make([]string, 0, len(st.entries))
	for name := range st.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb holds types to fake an in-memory DB.
//
// Queries return the rows installed by Run. Statements executed through
// Exec are recorded and can be inspected with Execs.
package fakedb // import "github.com/go-lpc/rtio/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

// Exec is a statement executed against the fake database.
type Exec struct {
	Query string
	Args  []driver.Value
}

var state struct {
	mu    sync.Mutex
	rows  Rows
	execs []Exec
	aff   int64
}

// Run runs f with rows as the result of every query.
// Every statement executed by f is reported as affecting one row.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	return RunAffected(ctx, rows, 1, f)
}

// RunAffected runs f with rows as the result of every query, reporting
// affected rows for every executed statement.
func RunAffected(ctx context.Context, rows Rows, affected int64, f func(ctx context.Context) error) error {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rows = rows
	state.execs = nil
	state.aff = affected

	return f(ctx)
}

// Execs returns the statements executed since the last call to Run.
// Execs must be called from within Run.
func Execs() []Exec {
	o := make([]Exec, len(state.execs))
	copy(o, state.execs)
	return o
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

// Open returns a new connection to the database.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

// Close invalidates the connection.
func (c *Conn) Close() error {
	return nil
}

// Begin starts and returns a new transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return tx{}, nil
}

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

type Stmt struct {
	query string
}

// Close closes the statement.
func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns the number of placeholder parameters.
// The fake driver does not know it and returns -1.
func (stmt *Stmt) NumInput() int {
	return -1
}

// Exec records the statement and its arguments.
func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	vs := make([]driver.Value, len(args))
	copy(vs, args)
	state.execs = append(state.execs, Exec{Query: stmt.query, Args: vs})
	return driver.RowsAffected(state.aff), nil
}

// Query returns a copy of the rows installed by Run.
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	rows := Rows{
		Names:  state.rows.Names,
		Values: append([][]driver.Value(nil), state.rows.Values...),
	}
	return &rows, nil
}

type Rows struct {
	Names  []string
	Values [][]driver.Value
}

// Columns returns the names of the columns.
func (rows *Rows) Columns() []string {
	return rows.Names
}

// Close closes the rows iterator.
func (rows *Rows) Close() error {
	return nil
}

// Next populates the next row of data into dest.
// Next returns io.EOF when there are no more rows.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Tx     = tx{}
	_ driver.Rows   = (*Rows)(nil)
)

// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"
	timeout = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	name     VARCHAR(255) NOT NULL PRIMARY KEY,
	duration BIGINT NOT NULL,
	data     LONGBLOB NOT NULL,
	created  DATETIME NOT NULL
)`

// DB persists traces in a SQL database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the traces database described by dsn, a
// MySQL data source name (e.g. "user:pass@tcp(localhost:3306)/rtio").
func Open(dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("tracedb: could not parse dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open(drvName, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("tracedb: could not open %q db: %w", cfg.DBName, err)
	}

	err = ping(db, cfg.DBName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: cfg.DBName}, nil
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("tracedb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the traces table if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("tracedb: could not create traces table: %w", err)
	}
	return nil
}

// Save stores tr, replacing any trace with the same name.
func (db *DB) Save(ctx context.Context, tr Trace) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`INSERT INTO traces (name, duration, data, created) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE duration=VALUES(duration), data=VALUES(data), created=VALUES(created)`,
		tr.Name, int64(tr.Duration), tr.Data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("tracedb: could not save trace %q: %w", tr.Name, err)
	}
	return nil
}

// Load retrieves the trace named name.
func (db *DB) Load(ctx context.Context, name string) (Trace, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tr := Trace{Name: name}
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT duration, data FROM traces WHERE name=?",
		name,
	)
	if err != nil {
		return tr, fmt.Errorf("tracedb: could not query trace %q: %w", name, err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var dur int64
		err = rows.Scan(&dur, &tr.Data)
		if err != nil {
			return tr, fmt.Errorf("tracedb: could not scan trace %q: %w", name, err)
		}
		tr.Duration = uint64(dur)
		found = true
	}

	if err := rows.Err(); err != nil {
		return tr, fmt.Errorf("tracedb: could not scan db for trace %q: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return tr, fmt.Errorf("tracedb: context error while retrieving trace %q: %w", name, err)
	}

	if !found {
		return tr, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return tr, nil
}

// Names returns the names of all stored traces, most recent first.
func (db *DB) Names(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var names []string
	rows, err := db.db.QueryContext(ctx, "SELECT name FROM traces ORDER BY created DESC")
	if err != nil {
		return nil, fmt.Errorf("tracedb: could not query trace names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return names, fmt.Errorf("tracedb: could not scan trace name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return names, fmt.Errorf("tracedb: could not scan db for trace names: %w", err)
	}

	return names, nil
}

// Delete removes the trace named name.
func (db *DB) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := db.db.ExecContext(ctx, "DELETE FROM traces WHERE name=?", name)
	if err != nil {
		return fmt.Errorf("tracedb: could not delete trace %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tracedb: could not delete trace %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

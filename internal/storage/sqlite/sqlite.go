// Package sqlite implements the storage backend for SQLite using the pure-Go
// modernc.org/sqlite driver. SQLite has no bulk-load API, so staging is
// filled with a prepared INSERT executed inside the load transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"elt/internal/storage"
	"elt/internal/storage/sqldb"
	"elt/internal/storage/sqlgen"
)

// Kind is the storage kind this package registers.
const Kind = "sqlite"

// Config holds SQLite backend configuration derived from storage.Config.
type Config struct {
	// DSN is a file path or file: URI, e.g. "etl.db".
	DSN string

	PrimaryTable string
	CleanTable   string
}

// Open opens the database and returns a Store.
//
// The pool is limited to one connection: SQLite allows a single writer, and
// temporary tables are per-connection, so staging, merge and every read in
// the same transaction must share it.
func Open(ctx context.Context, cfg Config) (*sqldb.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	b, err := sqlgen.New(sqlgen.SQLite, cfg.PrimaryTable, cfg.CleanTable)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	st := sqldb.NewStore(db, sqldb.Driver{
		Name:     Kind,
		Builder:  b,
		CopyIn:   copyIn,
		Classify: classify,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	return st, nil
}

// copyIn streams src through one prepared INSERT.
func copyIn(ctx context.Context, tx *sql.Tx, b *sqlgen.Builder, staging string, src storage.RowSource) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, b.InsertStaging(staging))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return n, fmt.Errorf("insert row %d: %w", n+1, err)
		}
		n++
	}
	return n, src.Err()
}

// classify maps SQLite primary result codes.
func classify(backend, op string, err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return &storage.IntegrityError{Backend: backend, Op: op, Err: err}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
		return &storage.ConnectivityError{Backend: backend, Op: op, Err: err}
	}
	return nil
}

// newStore is a test hook that points to Open by default.
var newStore = Open

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		st, err := newStore(ctx, Config{
			DSN:          cfg.DSN,
			PrimaryTable: cfg.PrimaryTable,
			CleanTable:   cfg.CleanTable,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}

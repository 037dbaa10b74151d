// Package mssql implements the storage backend for Microsoft SQL Server.
// Staging is a session temporary table (#name) filled through the
// go-mssqldb bulk copy API; the merge is a single MERGE ... WITH (HOLDLOCK).
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"elt/internal/storage"
	"elt/internal/storage/sqldb"
	"elt/internal/storage/sqlgen"
)

// Kind is the storage kind this package registers.
const Kind = "mssql"

// Config holds MSSQL backend configuration.
type Config struct {
	DSN          string
	PrimaryTable string
	CleanTable   string
}

// Open validates the DSN, connects and returns a Store.
func Open(ctx context.Context, cfg Config) (*sqldb.Store, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	b, err := sqlgen.New(sqlgen.MSSQL, cfg.PrimaryTable, cfg.CleanTable)
	if err != nil {
		return nil, fmt.Errorf("mssql: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: sql.Open: %w", err)
	}
	st := sqldb.NewStore(db, newDriver(b))
	if err := st.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func newDriver(b *sqlgen.Builder) sqldb.Driver {
	return sqldb.Driver{
		Name:     Kind,
		Builder:  b,
		CopyIn:   copyIn,
		Classify: classify,
	}
}

// copyIn streams src into the #staging table with one bulk copy statement.
func copyIn(ctx context.Context, tx *sql.Tx, b *sqlgen.Builder, staging string, src storage.RowSource) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(staging, mssql.BulkOptions{Tablock: true}, b.StagingColumns()...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	var rows int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			_ = stmt.Close()
			return rows, err
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			_ = stmt.Close()
			return rows, fmt.Errorf("bulk row %d: %w", rows+1, err)
		}
		rows++
	}
	if err := src.Err(); err != nil {
		_ = stmt.Close()
		return rows, err
	}

	res, err := stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return rows, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rows, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// classify maps SQL Server error numbers.
func classify(backend, op string, err error) error {
	var me mssql.Error
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case 2627, 2601, 547, 515:
		// unique constraint, unique index, FK/check, NOT NULL
		return &storage.IntegrityError{Backend: backend, Op: op, Err: err}
	case 1205, 4060, 40197, 40501, 40613:
		// deadlock victim, database unavailable, Azure transient faults
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

// Package sqldb implements storage.Store and storage.Tx on top of
// database/sql for the backends whose drivers plug into it (sqlite, mssql,
// mysql). Each backend supplies its bulk-copy path and error classifier;
// statements come from sqlgen.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"elt/internal/storage"
	"elt/internal/storage/sqlgen"
)

// CopyFunc bulk-transfers src into staging inside tx.
type CopyFunc func(ctx context.Context, tx *sql.Tx, b *sqlgen.Builder, staging string, src storage.RowSource) (int64, error)

// Driver describes a database/sql backend.
type Driver struct {
	// Name is the storage kind, used in errors and logs.
	Name     string
	Builder  *sqlgen.Builder
	CopyIn   CopyFunc
	Classify storage.Classifier

	// PinConn runs each transaction on a dedicated *sql.Conn and drops its
	// staging tables on that connection after rollback. Needed where
	// temporary tables are session-scoped and survive a rollback (MySQL).
	PinConn bool
}

// Store is a storage.Store over *sql.DB.
type Store struct {
	db  *sql.DB
	drv Driver
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps db. The Store owns db and closes it on Close.
func NewStore(db *sql.DB, drv Driver) *Store {
	return &Store{db: db, drv: drv}
}

// DB exposes the underlying pool (tests, diagnostics).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) wrap(op string, err error) error {
	return storage.Wrap(s.drv.Name, op, err, s.drv.Classify)
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) EnsureTables(ctx context.Context) error {
	b := s.drv.Builder
	for _, q := range []string{b.CreatePrimary(), b.CreateClean()} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return s.wrap("ensure tables", err)
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	q, err := s.countQuery(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, s.wrap("count "+table, err)
	}
	return n, nil
}

// countQuery only accepts the two configured tables.
func (s *Store) countQuery(table string) (string, error) {
	b := s.drv.Builder
	if table != b.PrimaryTable() && table != b.CleanTable() {
		return "", fmt.Errorf("%s: count: unknown table %q", s.drv.Name, table)
	}
	return b.Count(table), nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	t := &Tx{store: s}
	if s.drv.PinConn {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, s.wrap("begin", err)
		}
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			conn.Close()
			return nil, s.wrap("begin", err)
		}
		t.conn, t.tx = conn, tx
		return t, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap("begin", err)
	}
	t.tx = tx
	return t, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Tx is a storage.Tx over *sql.Tx.
type Tx struct {
	store   *Store
	tx      *sql.Tx
	conn    *sql.Conn
	staging []string
	done    bool
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) CreateStaging(ctx context.Context) (string, error) {
	b := t.store.drv.Builder
	name := b.StagingName(uuid.NewString())
	if _, err := t.tx.ExecContext(ctx, b.CreateStaging(name)); err != nil {
		return "", t.store.wrap("create staging", err)
	}
	t.staging = append(t.staging, name)
	return name, nil
}

func (t *Tx) CopyIn(ctx context.Context, staging string, src storage.RowSource) (int64, error) {
	n, err := t.store.drv.CopyIn(ctx, t.tx, t.store.drv.Builder, staging, src)
	if err != nil {
		return n, t.store.wrap("copy in", err)
	}
	return n, nil
}

func (t *Tx) Merge(ctx context.Context, staging string) (int64, error) {
	b := t.store.drv.Builder
	if _, err := t.tx.ExecContext(ctx, b.Merge(staging)); err != nil {
		return 0, t.store.wrap("merge", err)
	}
	var n int64
	if err := t.tx.QueryRowContext(ctx, b.CountDistinctKeys(staging)).Scan(&n); err != nil {
		return 0, t.store.wrap("merge", err)
	}
	return n, nil
}

func (t *Tx) RebuildClean(ctx context.Context) (int64, error) {
	b := t.store.drv.Builder
	if _, err := t.tx.ExecContext(ctx, b.DeleteClean()); err != nil {
		return 0, t.store.wrap("rebuild clean", err)
	}
	if _, err := t.tx.ExecContext(ctx, b.PopulateClean()); err != nil {
		return 0, t.store.wrap("rebuild clean", err)
	}
	return t.Count(ctx, b.CleanTable())
}

func (t *Tx) Count(ctx context.Context, table string) (int64, error) {
	q, err := t.store.countQuery(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := t.tx.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, t.store.wrap("count "+table, err)
	}
	return n, nil
}

// Commit drops the staging tables inside the transaction, then commits.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("%s: commit: transaction already finished", t.store.drv.Name)
	}
	for _, name := range t.staging {
		if _, err := t.tx.ExecContext(ctx, t.store.drv.Builder.DropStaging(name)); err != nil {
			return t.store.wrap("drop staging", err)
		}
	}
	t.done = true
	err := t.tx.Commit()
	t.release(ctx, err != nil)
	return t.store.wrap("commit", err)
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	t.release(ctx, true)
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return t.store.wrap("rollback", err)
}

// release returns a pinned connection to the pool, dropping staging tables
// that a rollback left behind.
func (t *Tx) release(ctx context.Context, dropStaging bool) {
	if t.conn == nil {
		return
	}
	if dropStaging {
		for _, name := range t.staging {
			if _, err := t.conn.ExecContext(context.WithoutCancel(ctx), t.store.drv.Builder.DropStaging(name)); err != nil {
				log.Printf("%s: drop staging %s after rollback: %v", t.store.drv.Name, name, err)
			}
		}
	}
	t.conn.Close()
	t.conn = nil
}

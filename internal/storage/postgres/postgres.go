// Package postgres implements the storage backend for PostgreSQL using pgx v5.
// A load COPYs into a temporary table created ON COMMIT DROP and then upserts
// into the primary table with INSERT ... ON CONFLICT, all in one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"elt/internal/storage"
	"elt/internal/storage/sqlgen"
)

// Kind is the storage kind this package registers.
const Kind = "postgres"

// Config holds Postgres backend configuration.
type Config struct {
	DSN          string // connection string for pgxpool
	PrimaryTable string // e.g. "public.netflix"
	CleanTable   string
}

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
	b    *sqlgen.Builder
}

var _ storage.Store = (*Store)(nil)

// Open parses the DSN, creates the pool and pings the server.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	b, err := sqlgen.New(sqlgen.Postgres, cfg.PrimaryTable, cfg.CleanTable)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, wrap("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping", err)
	}
	return &Store{pool: pool, b: b}, nil
}

func wrap(op string, err error) error {
	return storage.Wrap(Kind, op, err, classify)
}

// Pool exposes the underlying pool (tests, diagnostics).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) EnsureTables(ctx context.Context) error {
	for _, q := range []string{s.b.CreatePrimary(), s.b.CreateClean()} {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return wrap("ensure tables", err)
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	q, err := countQuery(s.b, table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, wrap("count "+table, err)
	}
	return n, nil
}

func countQuery(b *sqlgen.Builder, table string) (string, error) {
	if table != b.PrimaryTable() && table != b.CleanTable() {
		return "", fmt.Errorf("%s: count: unknown table %q", Kind, table)
	}
	return b.Count(table), nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrap("begin", err)
	}
	return &Tx{tx: tx, b: s.b}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Tx wraps a pgx transaction.
type Tx struct {
	tx pgx.Tx
	b  *sqlgen.Builder
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) CreateStaging(ctx context.Context) (string, error) {
	name := t.b.StagingName(uuid.NewString())
	if _, err := t.tx.Exec(ctx, t.b.CreateStaging(name)); err != nil {
		return "", wrap("create staging", err)
	}
	return name, nil
}

// CopyIn streams src through the COPY protocol.
func (t *Tx) CopyIn(ctx context.Context, staging string, src storage.RowSource) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{staging}, t.b.StagingColumns(), src)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			err = fmt.Errorf("%w (%s)", err, pgErr.Detail)
		}
		return n, wrap("copy in", err)
	}
	return n, nil
}

func (t *Tx) Merge(ctx context.Context, staging string) (int64, error) {
	if _, err := t.tx.Exec(ctx, t.b.Merge(staging)); err != nil {
		return 0, wrap("merge", err)
	}
	var n int64
	if err := t.tx.QueryRow(ctx, t.b.CountDistinctKeys(staging)).Scan(&n); err != nil {
		return 0, wrap("merge", err)
	}
	return n, nil
}

func (t *Tx) RebuildClean(ctx context.Context) (int64, error) {
	if _, err := t.tx.Exec(ctx, t.b.DeleteClean()); err != nil {
		return 0, wrap("rebuild clean", err)
	}
	if _, err := t.tx.Exec(ctx, t.b.PopulateClean()); err != nil {
		return 0, wrap("rebuild clean", err)
	}
	return t.Count(ctx, t.b.CleanTable())
}

func (t *Tx) Count(ctx context.Context, table string) (int64, error) {
	q, err := countQuery(t.b, table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := t.tx.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, wrap("count "+table, err)
	}
	return n, nil
}

// Commit commits; ON COMMIT DROP removes the staging tables.
func (t *Tx) Commit(ctx context.Context) error {
	return wrap("commit", t.tx.Commit(ctx))
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(context.WithoutCancel(ctx))
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return wrap("rollback", err)
}

// classify maps SQLSTATE classes: 23 integrity constraint violation,
// 08 connection exception, 57P01-03 operator intervention, plus
// serialization failures and deadlocks, which are worth retrying.
func classify(backend, op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "23":
			return &storage.IntegrityError{Backend: backend, Op: op, Err: err}
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08",
			pgErr.Code == "40001", pgErr.Code == "40P01",
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return &storage.ConnectivityError{Backend: backend, Op: op, Err: err}
		}
		return nil
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
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

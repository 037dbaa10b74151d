// Package storage defines the backend-agnostic contract of the relational
// store the pipeline writes to, and a registry that maps storage kinds
// ("postgres", "sqlite", "mssql", "mysql") to backend factories.
//
// Backends register themselves in init(); a blank import of
// elt/internal/storage/all makes every built-in backend available.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects a backend and the two target tables.
type Config struct {
	Kind         string
	DSN          string
	PrimaryTable string
	CleanTable   string
}

// RowSource streams staging rows into a bulk copy. Values returns one row in
// staging column order (contract fields, then the 1-based source line). The
// method set matches pgx.CopyFromSource.
type RowSource interface {
	Next() bool
	Values() ([]any, error)
	Err() error
}

// Store is an open connection (pool) to one database holding the primary and
// clean tables.
type Store interface {
	// EnsureTables creates the primary and clean tables if absent.
	EnsureTables(ctx context.Context) error

	// Begin starts the transaction that a load or transform runs in.
	Begin(ctx context.Context) (Tx, error)

	// Count returns the number of rows in the primary or clean table.
	Count(ctx context.Context, table string) (int64, error)

	Close() error
}

// Tx is a single database transaction. Staging tables created in it never
// outlive it: they are discarded on Commit and on Rollback.
type Tx interface {
	// CreateStaging creates a run-scoped staging table and returns its name.
	CreateStaging(ctx context.Context) (string, error)

	// CopyIn bulk-transfers src into staging and returns the row count.
	CopyIn(ctx context.Context, staging string, src RowSource) (int64, error)

	// Merge upserts staging into the primary table by key, last write wins
	// among duplicate staged keys. It returns the number of keys merged.
	Merge(ctx context.Context, staging string) (int64, error)

	// RebuildClean discards the clean table's contents and repopulates it from
	// the primary table. It returns the clean row count.
	RebuildClean(ctx context.Context) (int64, error)

	Count(ctx context.Context, table string) (int64, error)

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. It is safe to call after Commit, so
	// callers can always defer it.
	Rollback(ctx context.Context) error
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens the Store registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

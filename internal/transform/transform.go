// Package transform rebuilds the clean table from the primary table: rows
// with a non-empty country, one per key. The rebuild discards and
// repopulates the clean table in one transaction, so readers see either the
// previous contents or the new ones, never an empty or partial table.
package transform

import (
	"context"
	"log"
	"time"

	"elt/internal/metrics"
	"elt/internal/storage"
)

// Builder rebuilds the clean table of one store.
type Builder struct {
	Store storage.Store

	// Job labels metrics.
	Job string

	// beforeCommit is a fault injection point for tests.
	beforeCommit func(ctx context.Context) error
}

// Rebuild recomputes the clean table and returns its row count. Running it
// twice over an unchanged primary table yields the same clean table.
func (b *Builder) Rebuild(ctx context.Context) (int64, error) {
	start := time.Now()

	if err := b.Store.EnsureTables(ctx); err != nil {
		return 0, err
	}
	tx, err := b.Store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Printf("transform: rollback: %v", rbErr)
		}
	}()

	n, err := tx.RebuildClean(ctx)
	if err != nil {
		return 0, err
	}
	if b.beforeCommit != nil {
		if err := b.beforeCommit(ctx); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	metrics.RecordRow(b.Job, metrics.KindClean, n)
	log.Printf("transform: clean=%d elapsed=%s", n, time.Since(start).Truncate(time.Millisecond))
	return n, nil
}

// Package load moves one acquired CSV into the primary table: the file is
// parsed and checked, bulk-copied into a run-scoped staging table and merged
// into the primary table by key, all inside a single transaction. A failure
// at any step rolls back and leaves the primary table as it was.
package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"elt/internal/metrics"
	"elt/internal/parser/csv"
	"elt/internal/storage"
)

// DefaultChannelBuffer bounds the parsed-row channel when none is configured.
const DefaultChannelBuffer = 1024

// Phase marks the progress of a load. Validating is implicit when Load is
// called; OnPhase is told when the header passed and when the merge starts.
type Phase int

const (
	PhaseStaging Phase = iota + 1
	PhaseMerging
)

func (p Phase) String() string {
	switch p {
	case PhaseStaging:
		return "staging"
	case PhaseMerging:
		return "merging"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Loader performs loads against one store. It is safe to call Load again
// after a failure; loads are idempotent.
type Loader struct {
	Store   storage.Store
	Dataset csv.Dataset

	// Job labels metrics.
	Job string

	// ChannelBuffer bounds the rows in flight between parser and copy.
	ChannelBuffer int

	// ProgressEvery logs copy progress every n rows; zero disables it.
	ProgressEvery int64

	// OnPhase, when set, is called as the load enters each phase. A non-nil
	// error aborts the load.
	OnPhase func(Phase) error

	// Fault injection points for tests. Returning an error aborts the load
	// and rolls back.
	beforeMerge  func(ctx context.Context) error
	beforeCommit func(ctx context.Context) error
}

// Result summarizes a committed load.
type Result struct {
	Staged  int64 // rows copied into staging
	Merged  int64 // distinct keys upserted into primary
	Elapsed time.Duration
}

func (l *Loader) phase(p Phase) error {
	if l.OnPhase == nil {
		return nil
	}
	return l.OnPhase(p)
}

// Load runs one load. Nothing is written unless the header names every
// required column. Any parse error rejects the whole file.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	rd, err := l.Dataset.Open(ctx)
	if err != nil {
		return res, err
	}
	defer rd.Close()

	if err := rd.Validate(); err != nil {
		return res, err
	}
	if err := l.phase(PhaseStaging); err != nil {
		return res, err
	}

	if err := l.Store.EnsureTables(ctx); err != nil {
		return res, err
	}
	tx, err := l.Store.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Printf("load: rollback: %v", rbErr)
		}
	}()

	staging, err := tx.CreateStaging(ctx)
	if err != nil {
		return res, err
	}

	staged, err := l.stage(ctx, tx, staging, rd)
	if err != nil {
		return res, err
	}
	res.Staged = staged

	if err := l.phase(PhaseMerging); err != nil {
		return res, err
	}
	if l.beforeMerge != nil {
		if err := l.beforeMerge(ctx); err != nil {
			return res, err
		}
	}
	merged, err := tx.Merge(ctx, staging)
	if err != nil {
		return res, err
	}
	if l.beforeCommit != nil {
		if err := l.beforeCommit(ctx); err != nil {
			return res, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return res, err
	}

	res.Merged = merged
	res.Elapsed = time.Since(start)
	metrics.RecordRow(l.Job, metrics.KindStaged, res.Staged)
	metrics.RecordRow(l.Job, metrics.KindMerged, res.Merged)
	metrics.RecordBatches(l.Job, 1)
	log.Printf("load: staged=%d merged=%d staging=%s elapsed=%s",
		res.Staged, res.Merged, staging, res.Elapsed.Truncate(time.Millisecond))
	return res, nil
}

// stage streams records from rd into staging: one goroutine parses, the
// bulk copy consumes, and the first failure cancels the other.
func (l *Loader) stage(ctx context.Context, tx storage.Tx, staging string, rd *csv.Reader) (int64, error) {
	buf := l.ChannelBuffer
	if buf <= 0 {
		buf = DefaultChannelBuffer
	}
	rows := make(chan []any, buf)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		for {
			rec, err := rd.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			vals := append(rec.Values(), int64(rd.Line()))
			select {
			case rows <- vals:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var staged int64
	g.Go(func() error {
		src := storage.NewChanSource(gctx, rows)
		src.LogEvery = l.ProgressEvery
		n, err := tx.CopyIn(gctx, staging, src)
		staged = n
		return err
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return staged, nil
}

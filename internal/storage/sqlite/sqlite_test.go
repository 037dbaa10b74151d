package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"elt/internal/storage"
	"elt/internal/storage/sqldb"
	"elt/internal/storage/storagetest"
)

func openTemp(t *testing.T) *sqldb.Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		DSN:          filepath.Join(t.TempDir(), "elt.db"),
		PrimaryTable: "netflix",
		CleanTable:   "netflix_clean",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureTables(context.Background()); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	return st
}

func countTemp(t *testing.T, st *sqldb.Store) int {
	t.Helper()
	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_temp_master WHERE type = 'table'`).Scan(&n); err != nil {
		t.Fatalf("count temp tables: %v", err)
	}
	return n
}

func TestOpen_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := Open(ctx, Config{DSN: " ", PrimaryTable: "a", CleanTable: "b"}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	dsn := filepath.Join(t.TempDir(), "x.db")
	if _, err := Open(ctx, Config{DSN: dsn, PrimaryTable: "a;b", CleanTable: "b"}); err == nil {
		t.Fatal("expected error for invalid table name")
	}
}

func TestEnsureTables_Idempotent(t *testing.T) {
	t.Parallel()

	st := openTemp(t)
	ctx := context.Background()
	if err := st.EnsureTables(ctx); err != nil {
		t.Fatalf("second EnsureTables: %v", err)
	}
	for _, table := range []string{"netflix", "netflix_clean"} {
		n, err := st.Count(ctx, table)
		if err != nil || n != 0 {
			t.Fatalf("Count(%s) = %d, %v", table, n, err)
		}
	}
	if _, err := st.Count(ctx, "sqlite_master"); err == nil {
		t.Fatal("Count must reject tables other than primary and clean")
	}
}

func TestTx_StageMergeCommit(t *testing.T) {
	t.Parallel()

	st := openTemp(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)

	stg, err := tx.CreateStaging(ctx)
	if err != nil {
		t.Fatalf("CreateStaging: %v", err)
	}
	first := storagetest.Title("s1", "US")
	second := storagetest.Title("s2", "")
	again := storagetest.Title("s1", "FR")
	staged, err := tx.CopyIn(ctx, stg, storagetest.Records(first, second, again))
	if err != nil || staged != 3 {
		t.Fatalf("CopyIn = %d, %v; want 3", staged, err)
	}
	merged, err := tx.Merge(ctx, stg)
	if err != nil || merged != 2 {
		t.Fatalf("Merge = %d, %v; want 2", merged, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit = %v, want nil", err)
	}

	var country string
	if err := st.DB().QueryRow(`SELECT country FROM netflix WHERE show_id = 's1'`).Scan(&country); err != nil {
		t.Fatalf("select: %v", err)
	}
	if country != "FR" {
		t.Fatalf("s1 country = %q, want last staged value FR", country)
	}
	if n := countTemp(t, st); n != 0 {
		t.Fatalf("%d temp tables left after commit", n)
	}
}

func TestTx_RollbackDiscardsStagingAndRows(t *testing.T) {
	t.Parallel()

	st := openTemp(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	stg, err := tx.CreateStaging(ctx)
	if err != nil {
		t.Fatalf("CreateStaging: %v", err)
	}
	if _, err := tx.CopyIn(ctx, stg, storagetest.Records(storagetest.Title("s1", "US"))); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	if _, err := tx.Merge(ctx, stg); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if n, _ := st.Count(ctx, "netflix"); n != 0 {
		t.Fatalf("primary has %d rows after rollback", n)
	}
	if n := countTemp(t, st); n != 0 {
		t.Fatalf("%d temp tables left after rollback", n)
	}
}

func TestTx_CopyInSourceError(t *testing.T) {
	t.Parallel()

	st := openTemp(t)
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)

	stg, err := tx.CreateStaging(ctx)
	if err != nil {
		t.Fatalf("CreateStaging: %v", err)
	}
	boom := errors.New("reader failed")
	src := storagetest.Records(storagetest.Title("a", "US"), storagetest.Title("b", "US")).FailAfter(1, boom)
	n, err := tx.CopyIn(ctx, stg, src)
	if !errors.Is(err, boom) || n != 1 {
		t.Fatalf("CopyIn = %d, %v; want 1, %v", n, err, boom)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	st := openTemp(t)
	ctx := context.Background()

	ins := `INSERT INTO netflix (show_id) VALUES ('dup')`
	if _, err := st.DB().ExecContext(ctx, ins); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := st.DB().ExecContext(ctx, ins)
	if err == nil {
		t.Fatal("expected primary key violation")
	}
	var ie *storage.IntegrityError
	if c := classify(Kind, "insert", err); !errors.As(c, &ie) {
		t.Fatalf("classify(%v) = %v, want *storage.IntegrityError", err, c)
	}
	if c := classify(Kind, "x", errors.New("plain")); c != nil {
		t.Fatalf("classify(plain) = %v, want nil", c)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	st, err := storage.New(context.Background(), storage.Config{
		Kind:         Kind,
		DSN:          filepath.Join(t.TempDir(), "reg.db"),
		PrimaryTable: "netflix",
		CleanTable:   "netflix_clean",
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	st.Close()
}

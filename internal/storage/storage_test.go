package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sort"
	"strings"
	"testing"
)

// fakeStore is a minimal Store implementation for registry tests.
type fakeStore struct{ closed bool }

func (f *fakeStore) EnsureTables(context.Context) error          { return nil }
func (f *fakeStore) Begin(context.Context) (Tx, error)           { return nil, errors.New("not implemented") }
func (f *fakeStore) Count(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeStore) Close() error                                 { f.closed = true; return nil }

func TestRegisterAndNew_Success(t *testing.T) {
	t.Parallel()

	kind := "fake"
	Register(kind, func(ctx context.Context, cfg Config) (Store, error) {
		return &fakeStore{}, nil
	})

	st, err := New(context.Background(), Config{Kind: kind})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if st == nil {
		t.Fatalf("New returned nil store")
	}

	found := false
	for _, k := range ListKinds() {
		if k == kind {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("registered kind %q not present in ListKinds: %v", kind, ListKinds())
	}
}

func TestNew_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if err == nil {
		t.Fatalf("expected error for unsupported kind")
	}
	if got, want := err.Error(), "unsupported storage.kind=does-not-exist"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
}

// TestRegister_Override verifies that re-registering a kind replaces the
// previous factory.
func TestRegister_Override(t *testing.T) {
	t.Parallel()

	kind := "override"
	calls := 0
	Register(kind, func(ctx context.Context, cfg Config) (Store, error) {
		calls++
		return &fakeStore{}, nil
	})
	Register(kind, func(ctx context.Context, cfg Config) (Store, error) {
		calls += 10
		return &fakeStore{}, nil
	})

	if _, err := New(context.Background(), Config{Kind: kind}); err != nil {
		t.Fatalf("New error: %v", err)
	}
	if calls != 10 {
		t.Fatalf("factory call count = %d, want 10", calls)
	}
}

func TestListKinds_SortedSnapshot(t *testing.T) {
	t.Parallel()

	Register("snap", func(ctx context.Context, cfg Config) (Store, error) { return &fakeStore{}, nil })

	a := ListKinds()
	if !sort.StringsAreSorted(a) {
		t.Fatalf("ListKinds not sorted: %v", a)
	}
	a[0] = "mutated"
	if b := ListKinds(); reflect.DeepEqual(a, b) {
		t.Fatalf("ListKinds returned shared slice; want a copy")
	}
}

func TestRegister_FactoryErrorsBubbleUp(t *testing.T) {
	t.Parallel()

	want := errors.New("boom")
	Register("errkind", func(ctx context.Context, cfg Config) (Store, error) { return nil, want })

	if _, err := New(context.Background(), Config{Kind: "errkind"}); !errors.Is(err, want) {
		t.Fatalf("want %v, got %v", want, err)
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()

	integrity := func(backend, op string, err error) error {
		if strings.Contains(err.Error(), "duplicate") {
			return &IntegrityError{Backend: backend, Op: op, Err: err}
		}
		return nil
	}

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"nil", nil, func(err error) bool { return err == nil }},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), func(err error) bool {
			return errors.Is(err, context.Canceled)
		}},
		{"classified", errors.New("duplicate key"), func(err error) bool {
			var ie *IntegrityError
			return errors.As(err, &ie) && ie.Op == "merge"
		}},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, func(err error) bool {
			var ce *ConnectivityError
			return errors.As(err, &ce)
		}},
		{"plain", io.ErrUnexpectedEOF, func(err error) bool {
			var ce *ConnectivityError
			var ie *IntegrityError
			return !errors.As(err, &ce) && !errors.As(err, &ie) && errors.Is(err, io.ErrUnexpectedEOF) &&
				strings.HasPrefix(err.Error(), "fake merge: ")
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Wrap("fake", "merge", tt.err, integrity); !tt.check(got) {
				t.Fatalf("Wrap(%v) = %#v", tt.err, got)
			}
		})
	}
}

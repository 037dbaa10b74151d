// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local is a filesystem data source that opens files from the local disk.
type Local struct{ path string }

// NewLocal returns a Local data source bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the file the source reads.
func (l *Local) Path() string { return l.path }

// Open opens the configured path for reading. A canceled ctx short-circuits
// without touching the filesystem. Filesystem errors are wrapped with the
// path and still match errors.Is(err, os.ErrNotExist).
//
// The file is read front to back exactly once per Open, so the kernel is
// advised of sequential access where supported.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}

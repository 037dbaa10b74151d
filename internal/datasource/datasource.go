// Package datasource defines how the pipeline obtains raw input bytes.
package datasource

import (
	"context"
	"fmt"
	"io"
)

// Source yields a fresh reader over the input on every Open.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// AcquisitionError reports that the input could not be obtained: the remote
// source failed, the archive could not be unpacked, or the expected CSV is
// absent after download. Acquisition failures are retryable.
type AcquisitionError struct {
	// Source names where the input was being fetched from (kind or URL).
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("acquisition failed: %v", e.Err)
	}
	return fmt.Sprintf("acquisition from %s failed: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Acquisition wraps err as an *AcquisitionError; nil stays nil.
func Acquisition(source string, err error) error {
	if err == nil {
		return nil
	}
	return &AcquisitionError{Source: source, Err: err}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"elt/internal/datasource"
	"elt/internal/parser/csv"
	"elt/internal/schema"
	"elt/internal/storage"
)

// Kind classifies a stage failure for retry decisions and exit codes.
type Kind int

const (
	KindInternal Kind = iota
	KindAcquisition
	KindSchema
	KindParse
	KindConnectivity
	KindIntegrity
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindAcquisition:
		return "acquisition"
	case KindSchema:
		return "schema"
	case KindParse:
		return "parse"
	case KindConnectivity:
		return "connectivity"
	case KindIntegrity:
		return "integrity"
	case KindCanceled:
		return "canceled"
	}
	return "internal"
}

// Retryable reports whether running the stage again may succeed without
// changing its input.
func (k Kind) Retryable() bool {
	switch k {
	case KindAcquisition, KindConnectivity, KindCanceled:
		return true
	}
	return false
}

// ExitCode maps a kind to a sysexits-style process status.
func (k Kind) ExitCode() int {
	switch k {
	case KindAcquisition, KindConnectivity, KindCanceled:
		return 75 // EX_TEMPFAIL
	case KindSchema, KindParse:
		return 65 // EX_DATAERR
	case KindIntegrity:
		return 70 // EX_SOFTWARE
	}
	return 1
}

// KindOf classifies err. Cancellation wins over the error that carried it.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}

	var (
		mc *schema.MissingColumnsError
		pe *csv.ParseError
		ae *datasource.AcquisitionError
		ce *storage.ConnectivityError
		ie *storage.IntegrityError
	)
	switch {
	case errors.As(err, &mc):
		return KindSchema
	case errors.As(err, &pe):
		return KindParse
	case errors.As(err, &ie):
		return KindIntegrity
	case errors.As(err, &ce):
		return KindConnectivity
	case errors.As(err, &ae):
		return KindAcquisition
	}
	return KindInternal
}

// StageError is returned by every stage that fails.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Kind: KindOf(err), Err: err}
}

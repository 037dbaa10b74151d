package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

// ConnectivityError reports that the store could not be reached or dropped
// the connection mid-operation. The operation may be retried.
type ConnectivityError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s %s: connectivity: %v", e.Backend, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IntegrityError reports a constraint violation (key, not-null, foreign key).
// Retrying the same input fails the same way.
type IntegrityError struct {
	Backend string
	Op      string
	Err     error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %s: integrity: %v", e.Backend, e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Classifier maps a driver error to *ConnectivityError or *IntegrityError,
// or returns nil when the error is neither.
type Classifier func(backend, op string, err error) error

// Wrap annotates err with backend and op. Context errors are kept
// recognizable via errors.Is; driver errors are classified by classify
// first, then by the transport-level checks every backend shares.
func Wrap(backend, op string, err error, classify Classifier) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", backend, op, err)
	}
	var ce *ConnectivityError
	var ie *IntegrityError
	if errors.As(err, &ce) || errors.As(err, &ie) {
		return err
	}
	if classify != nil {
		if c := classify(backend, op, err); c != nil {
			return c
		}
	}
	if IsTransport(err) {
		return &ConnectivityError{Backend: backend, Op: op, Err: err}
	}
	return fmt.Errorf("%s %s: %w", backend, op, err)
}

// IsTransport reports connection-level failures: network errors and
// database/sql's bad-connection sentinel.
func IsTransport(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

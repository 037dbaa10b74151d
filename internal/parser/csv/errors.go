package csv

import (
	"fmt"
	"strings"
)

// ParseError reports a record (or the header) that could not be turned into
// a schema.Record. Any ParseError rejects the whole load batch.
type ParseError struct {
	// Line is the 1-based source line where the record starts (header = 1).
	Line int
	// Key is the record's show_id when it could be read.
	Key string
	// Field names the failing field; empty for structural CSV errors.
	Field string
	// Value is the offending raw value, if any.
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "parse line %d", e.Line)
	if e.Key != "" {
		fmt.Fprintf(&b, " (key=%q)", e.Key)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " value %q", e.Value)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

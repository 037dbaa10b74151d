// Package csv reads the titles dataset from CSV into typed schema.Records.
//
// The reader never buffers the whole file: the header is read and checked
// first, then records are produced one at a time. Text cells are trimmed and
// missing cells become "". The integer field is parsed strictly; a value that
// is not an integer is a *ParseError and the caller is expected to reject the
// whole batch.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"elt/internal/config"
	"elt/internal/datasource"
	"elt/internal/schema"
)

// Options configures the CSV reader. Zero values are sensible defaults.
type Options struct {
	// Comma is the field delimiter. When zero, ',' is used.
	Comma rune

	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool

	// Contract is the record contract. When zero, schema.Titles is used.
	Contract schema.Contract
}

// OptionsFrom builds Options from the parser section of a pipeline config.
//
// Recognized keys: comma (string), lazy_quotes (bool).
func OptionsFrom(p config.Parser) Options {
	return Options{
		Comma:      p.Options.Rune("comma", ','),
		LazyQuotes: p.Options.Bool("lazy_quotes", true),
	}
}

// Reader produces schema.Records from CSV input.
type Reader struct {
	cr       *csv.Reader
	closer   io.Closer
	contract schema.Contract
	header   []string
	index    []int // contract position -> source column, -1 when absent
	line     int
}

// NewReader reads and canonicalizes the header from r. If r is an io.Closer,
// Close closes it. The header is not checked here; call Validate before
// reading records.
func NewReader(r io.Reader, opt Options) (*Reader, error) {
	contract := opt.Contract
	if len(contract.Fields) == 0 {
		contract = schema.Titles
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	// Short rows are padded with "" below; wide rows are rejected in Next.
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	raw, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("empty input: no header row")
		}
		return nil, &ParseError{Line: 1, Err: fmt.Errorf("read header: %w", err)}
	}

	raw = StripHeaderBOM(raw)
	header := make([]string, len(raw))
	for i, h := range raw {
		header[i] = schema.CanonicalName(h)
	}

	index := make([]int, len(contract.Fields))
	for i, f := range contract.Fields {
		index[i] = -1
		for j, h := range header {
			if h == f.Name {
				index[i] = j
				break
			}
		}
	}

	rd := &Reader{
		cr:       cr,
		contract: contract,
		header:   header,
		index:    index,
		line:     1,
	}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd, nil
}

// Header returns the canonicalized header names in source order.
func (r *Reader) Header() []string { return append([]string(nil), r.header...) }

// Validate checks the header against the contract. It returns a
// *schema.MissingColumnsError naming every absent field.
func (r *Reader) Validate() error { return r.contract.Validate(r.header) }

// Line returns the source line of the most recently read record.
func (r *Reader) Line() int { return r.line }

// Next returns the next record, or io.EOF when the input is exhausted.
func (r *Reader) Next() (schema.Record, error) {
	row, err := r.cr.Read()
	if errors.Is(err, io.EOF) {
		return schema.Record{}, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		line := r.line + 1
		if errors.As(err, &pe) {
			line = pe.StartLine
		}
		return schema.Record{}, &ParseError{Line: line, Err: err}
	}
	r.line, _ = r.cr.FieldPos(0)

	if len(row) > len(r.header) {
		var key string
		if k := r.contract.Index(schema.FieldShowID); k >= 0 && r.index[k] >= 0 {
			key = strings.TrimSpace(row[r.index[k]])
		}
		return schema.Record{}, &ParseError{
			Line: r.line,
			Key:  key,
			Err:  fmt.Errorf("expected %d fields, got %d", len(r.header), len(row)),
		}
	}
	return r.record(row)
}

func (r *Reader) record(row []string) (schema.Record, error) {
	cell := func(i int) string {
		j := r.index[i]
		if j < 0 || j >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[j])
	}

	var rec schema.Record
	rec.ShowID = cell(r.contract.Index(schema.FieldShowID))
	if rec.ShowID == "" {
		return schema.Record{}, &ParseError{
			Line:  r.line,
			Field: schema.FieldShowID,
			Err:   errors.New("empty key"),
		}
	}

	for i, f := range r.contract.Fields {
		v := cell(i)
		switch f.Type {
		case schema.TypeInteger:
			if v == "" {
				continue
			}
			// 32-bit: every backend stores the field as INTEGER/INT.
			n64, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				msg := "not an integer"
				if errors.Is(err, strconv.ErrRange) {
					msg = "out of 32-bit integer range"
				}
				return schema.Record{}, &ParseError{
					Line:  r.line,
					Key:   rec.ShowID,
					Field: f.Name,
					Value: v,
					Err:   errors.New(msg),
				}
			}
			if f.Name == schema.FieldReleaseYear {
				n := int(n64)
				rec.ReleaseYear = &n
			}
		default:
			rec.SetText(f.Name, v)
		}
	}
	return rec, nil
}

// Close closes the underlying input when it is closable.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Dataset is a restartable record sequence: every Open re-opens the source
// and starts from the first record.
type Dataset struct {
	Source  datasource.Source
	Options Options
}

// Open opens the source and reads its header. A source that cannot be
// opened is reported as an *datasource.AcquisitionError.
func (d Dataset) Open(ctx context.Context) (*Reader, error) {
	rc, err := d.Source.Open(ctx)
	if err != nil {
		return nil, datasource.Acquisition("csv", err)
	}
	r, err := NewReader(rc, d.Options)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return r, nil
}

// Package storagetest holds helpers shared by backend and pipeline tests.
package storagetest

import (
	"elt/internal/schema"
	"elt/internal/storage"
)

// SliceSource is an in-memory storage.RowSource.
type SliceSource struct {
	rows [][]any
	i    int
	err  error
}

var _ storage.RowSource = (*SliceSource)(nil)

// Rows builds a source from raw staging rows.
func Rows(rows ...[]any) *SliceSource { return &SliceSource{rows: rows, i: -1} }

// Records builds a source from records, numbering them from line 2 as if
// read from a CSV file with a header.
func Records(recs ...schema.Record) *SliceSource {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = append(r.Values(), int64(i+2))
	}
	return Rows(rows...)
}

// FailAfter makes the source report err once n rows have been produced.
func (s *SliceSource) FailAfter(n int, err error) *SliceSource {
	if n < len(s.rows) {
		s.rows = s.rows[:n]
	}
	s.err = err
	return s
}

func (s *SliceSource) Next() bool {
	s.i++
	return s.i < len(s.rows)
}

func (s *SliceSource) Values() ([]any, error) { return s.rows[s.i], nil }

func (s *SliceSource) Err() error { return s.err }

// Year returns a pointer to y, for schema.Record literals.
func Year(y int) *int { return &y }

// Title builds a record with the given key and country; other text fields
// are derived from the key.
func Title(id, country string) schema.Record {
	return schema.Record{
		ShowID:      id,
		Type:        "Movie",
		Title:       "Title " + id,
		Country:     country,
		ReleaseYear: Year(2020),
		Description: "about " + id,
	}
}

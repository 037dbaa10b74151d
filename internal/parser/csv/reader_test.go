package csv

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"elt/internal/config"
	"elt/internal/datasource"
	"elt/internal/datasource/file"
	"elt/internal/schema"
)

const header = "show_id,type,title,director,cast,country,date_added,release_year,rating,duration,listed_in,description"

func readAll(t *testing.T, r *Reader) []schema.Record {
	t.Helper()
	var out []schema.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
	}
}

func TestReader_Records(t *testing.T) {
	t.Parallel()
	body := "\uFEFF" + "Show ID,Type,Title,Director,Cast,Country,Date Added,Release-Year,Rating,Duration,Listed In,Description\n" +
		`s1,Movie,  Dick Johnson Is Dead ,Kirsten Johnson,,United States,"September 25, 2021",2020,PG-13,90 min,Documentaries,"A son, a father."` + "\n" +
		`s2,TV Show,Blood & Water,,"Ama Qamata, Khosi Ngema","South Africa, Kenya",,,TV-MA,2 Seasons,"International TV Shows",` + "\n"

	r, err := NewReader(strings.NewReader(body), Options{LazyQuotes: true})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := r.Header(); got[0] != "show_id" || got[7] != "release_year" || got[10] != "listed_in" {
		t.Fatalf("header not canonicalized: %v", got)
	}

	recs := readAll(t, r)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	a, b := recs[0], recs[1]
	if a.Title != "Dick Johnson Is Dead" {
		t.Errorf("title not trimmed: %q", a.Title)
	}
	if a.DateAdded != "September 25, 2021" || a.Description != "A son, a father." {
		t.Errorf("quoted fields: %+v", a)
	}
	if a.ReleaseYear == nil || *a.ReleaseYear != 2020 {
		t.Errorf("release_year = %v, want 2020", a.ReleaseYear)
	}
	if b.Country != "South Africa, Kenya" || b.Director != "" || b.Description != "" {
		t.Errorf("second record: %+v", b)
	}
	if b.ReleaseYear != nil {
		t.Errorf("empty release_year should be nil, got %d", *b.ReleaseYear)
	}
}

func TestReader_ColumnOrderAndShortRows(t *testing.T) {
	t.Parallel()
	body := "country,show_id,release_year,title,type,director,cast,date_added,rating,duration,listed_in,description,extra\n" +
		"India,s9,2001,Lagaan\n"

	r, err := NewReader(strings.NewReader(body), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	recs := readAll(t, r)
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	rec := recs[0]
	if rec.ShowID != "s9" || rec.Country != "India" || rec.Title != "Lagaan" || rec.Type != "" {
		t.Fatalf("record = %+v", rec)
	}
	if got := rec.Values(); len(got) != len(schema.Titles.Fields) || got[0] != "s9" {
		t.Fatalf("values out of contract order: %v", got)
	}
}

func TestReader_ValidateMissing(t *testing.T) {
	t.Parallel()
	r, err := NewReader(strings.NewReader("show_id,title,release_year\ns1,X,2020\n"), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	err = r.Validate()
	var mc *schema.MissingColumnsError
	if !errors.As(err, &mc) {
		t.Fatalf("want MissingColumnsError, got %v", err)
	}
	for _, want := range []string{"country", "description", "type"} {
		found := false
		for _, m := range mc.Missing {
			if m == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing %v lacks %q", mc.Missing, want)
		}
	}
}

func TestReader_ParseErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		body      string
		wantLine  int
		wantKey   string
		wantField string
		wantValue string
		wantMsg   string
	}{
		{
			name:      "bad_year",
			body:      header + "\ns1,Movie,A,,,US,,2020,,,,\ns2,Movie,B,,,US,,20x0,,,,\n",
			wantLine:  3,
			wantKey:   "s2",
			wantField: schema.FieldReleaseYear,
			wantValue: "20x0",
		},
		{
			name:      "empty_key",
			body:      header + "\n  ,Movie,A,,,US,,2020,,,,\n",
			wantLine:  2,
			wantField: schema.FieldShowID,
		},
		{
			name:     "wide_row",
			body:     header + "\ns1,Movie,A,,,US,,2020,PG,90 min,Dramas,desc,EXTRA,MORE\n",
			wantLine: 2,
			wantKey:  "s1",
			wantMsg:  "expected 12 fields, got 14",
		},
		{
			name:      "year_out_of_int32_range",
			body:      header + "\ns1,Movie,A,,,US,,99999999999,,,,\n",
			wantLine:  2,
			wantKey:   "s1",
			wantField: schema.FieldReleaseYear,
			wantValue: "99999999999",
			wantMsg:   "out of 32-bit integer range",
		},
		{
			name:     "bare_quote_strict",
			body:     header + "\ns1,Movie,A \"b\" c,,,US,,2020,,,,\n",
			wantLine: 2,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := NewReader(strings.NewReader(tc.body), Options{})
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			var perr error
			for perr == nil {
				_, perr = r.Next()
			}
			var pe *ParseError
			if !errors.As(perr, &pe) {
				t.Fatalf("want ParseError, got %v", perr)
			}
			if pe.Line != tc.wantLine || pe.Key != tc.wantKey || pe.Field != tc.wantField || pe.Value != tc.wantValue {
				t.Fatalf("ParseError = %+v", pe)
			}
			if tc.wantMsg != "" && !strings.Contains(pe.Error(), tc.wantMsg) {
				t.Fatalf("error %q missing %q", pe.Error(), tc.wantMsg)
			}
		})
	}
}

func TestNewReader_EmptyInput(t *testing.T) {
	t.Parallel()
	_, err := NewReader(strings.NewReader(""), Options{})
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Line != 1 {
		t.Fatalf("want header ParseError, got %v", err)
	}
}

func TestReader_Semicolon(t *testing.T) {
	t.Parallel()
	p := config.Parser{Options: config.Options{"comma": ";"}}
	opt := OptionsFrom(p)
	if opt.Comma != ';' || !opt.LazyQuotes {
		t.Fatalf("OptionsFrom = %+v", opt)
	}
	body := strings.ReplaceAll(header, ",", ";") + "\ns1;Movie;A;;;France;;1999;;;;\n"
	r, err := NewReader(strings.NewReader(body), opt)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	recs := readAll(t, r)
	if len(recs) != 1 || recs[0].Country != "France" || *recs[0].ReleaseYear != 1999 {
		t.Fatalf("records = %+v", recs)
	}
}

func TestStripHeaderBOM(t *testing.T) {
	t.Parallel()
	got := StripHeaderBOM([]string{"\uFEFFshow_id", "type"})
	if got[0] != "show_id" {
		t.Fatalf("got %q", got[0])
	}
	if out := StripHeaderBOM(nil); out != nil {
		t.Fatalf("nil header changed: %v", out)
	}
}

func TestDataset_Restartable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "titles.csv")
	if err := os.WriteFile(path, []byte(header+"\ns1,Movie,A,,,US,,2020,,,,\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ds := Dataset{Source: file.NewLocal(path)}
	for i := 0; i < 2; i++ {
		r, err := ds.Open(context.Background())
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if n := len(readAll(t, r)); n != 1 {
			t.Fatalf("pass %d: records = %d", i, n)
		}
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestDataset_OpenMissingIsAcquisition(t *testing.T) {
	t.Parallel()
	ds := Dataset{Source: file.NewLocal(filepath.Join(t.TempDir(), "absent.csv"))}
	_, err := ds.Open(context.Background())
	var ae *datasource.AcquisitionError
	if !errors.As(err, &ae) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want AcquisitionError wrapping ErrNotExist, got %v", err)
	}
}

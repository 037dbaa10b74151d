package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	p := Pipeline{
		Source:  Source{Kind: "file", File: SourceFile{Path: "titles.csv"}},
		Storage: Storage{Kind: "postgres", DSN: "postgres://u@h/db"},
	}
	p.ApplyDefaults()
	return p
}

func TestValidatePipeline_ValidMinimal(t *testing.T) {
	t.Parallel()

	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidatePipeline_Cases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(p *Pipeline)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"empty_job", func(p *Pipeline) { p.Job = " " }, SeverityError, "job", "must not be empty"},
		{"empty_work_dir", func(p *Pipeline) { p.WorkDir = "" }, SeverityError, "work_dir", "must not be empty"},
		{"missing_source_kind", func(p *Pipeline) { p.Source.Kind = "" }, SeverityError, "source.kind", "must not be empty"},
		{"unknown_source_kind", func(p *Pipeline) { p.Source.Kind = "ftp" }, SeverityError, "source.kind", "unknown source kind"},
		{"file_without_path", func(p *Pipeline) { p.Source.File.Path = "" }, SeverityError, "source.file.path", "non-empty path"},
		{"filename_is_path", func(p *Pipeline) { p.Source.Filename = "../x.csv" }, SeverityError, "source.filename", "bare file name"},
		{"filename_not_csv", func(p *Pipeline) { p.Source.Filename = "titles.txt" }, SeverityWarning, "source.filename", "does not end in .csv"},
		{"http_bad_url", func(p *Pipeline) {
			p.Source = Source{Kind: "http", Filename: "t.csv", HTTP: SourceHTTP{URL: "ftp://x"}}
		}, SeverityError, "source.http.url", "http(s) URL"},
		{"http_insecure", func(p *Pipeline) {
			p.Source = Source{Kind: "http", Filename: "t.csv", HTTP: SourceHTTP{URL: "https://x", InsecureSkipVerify: true}}
		}, SeverityWarning, "source.http.insecure_skip_verify", "disabled"},
		{"kaggle_bad_slug", func(p *Pipeline) {
			p.Source = Source{Kind: "kaggle", Filename: "t.csv", Kaggle: SourceKaggle{Dataset: "netflix"}}
		}, SeverityError, "source.kaggle.dataset", "<owner>/<slug>"},
		{"kaggle_no_creds", func(p *Pipeline) {
			p.Source = Source{Kind: "kaggle", Filename: "t.csv", Kaggle: SourceKaggle{Dataset: "a/b"}}
		}, SeverityWarning, "source.kaggle", "kaggle.json"},
		{"s3_no_bucket", func(p *Pipeline) {
			p.Source = Source{Kind: "s3", Filename: "t.csv", S3: SourceS3{Key: "k"}}
		}, SeverityError, "source.s3.bucket", "bucket"},
		{"parser_not_csv", func(p *Pipeline) { p.Parser.Kind = "xml" }, SeverityError, "parser.kind", "only csv"},
		{"parser_quote_comma", func(p *Pipeline) { p.Parser.Options["comma"] = `"` }, SeverityError, "parser.options.comma", "single character"},
		{"storage_unknown_kind", func(p *Pipeline) { p.Storage.Kind = "oracle" }, SeverityWarning, "storage.kind", "unknown storage kind"},
		{"storage_empty_dsn", func(p *Pipeline) { p.Storage.DSN = "" }, SeverityError, "storage.dsn", "must not be empty"},
		{"storage_bad_table", func(p *Pipeline) { p.Storage.PrimaryTable = "netflix; DROP TABLE x" }, SeverityError, "storage.primary_table", "invalid table name"},
		{"storage_same_tables", func(p *Pipeline) { p.Storage.CleanTable = "NETFLIX" }, SeverityError, "storage.clean_table", "must differ"},
		{"runtime_negative", func(p *Pipeline) { p.Runtime.PreviewRows = -1 }, SeverityError, "runtime.preview_rows", "must not be negative"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := validPipeline()
			p.Parser.Options = Options{}
			tc.mutate(&p)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("want %s at %s containing %q; got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

func TestHasErrors(t *testing.T) {
	t.Parallel()

	if HasErrors([]Issue{{Severity: SeverityWarning}}) {
		t.Fatal("warnings alone must not count as errors")
	}
	if !HasErrors([]Issue{{Severity: SeverityWarning}, {Severity: SeverityError}}) {
		t.Fatal("expected HasErrors=true")
	}
}

func TestIssue_Error(t *testing.T) {
	t.Parallel()

	got := Issue{Severity: SeverityError, Path: "storage.dsn", Message: "empty"}.Error()
	if got != "error at storage.dsn: empty" {
		t.Fatalf("Error() = %q", got)
	}
}

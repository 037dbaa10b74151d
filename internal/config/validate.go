package config

import (
	"fmt"
	"strings"

	"elt/internal/storage/sqlgen"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the config
// (e.g. "storage.primary_table").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline lints p without mutating it. Call it after ApplyDefaults
// and ApplyEnv so the checked values are the ones the run will use.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	if strings.TrimSpace(p.WorkDir) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "work_dir",
			Message:  "work_dir must not be empty",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	errAt := func(path, msg string) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: msg})
	}

	if strings.ContainsAny(s.Filename, `/\`) {
		errAt("source.filename", "filename must be a bare file name, not a path")
	}
	if s.Filename != "" && !strings.HasSuffix(strings.ToLower(s.Filename), ".csv") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.filename",
			Message:  fmt.Sprintf("filename %q does not end in .csv", s.Filename),
		})
	}

	switch s.Kind {
	case "":
		errAt("source.kind", "source.kind must not be empty")
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			errAt("source.file.path", "file source requires a non-empty path")
		}
	case "http":
		u := strings.TrimSpace(s.HTTP.URL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errAt("source.http.url", "http source requires an http(s) URL")
		}
		if s.HTTP.InsecureSkipVerify {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "source.http.insecure_skip_verify",
				Message:  "TLS verification is disabled",
			})
		}
	case "kaggle":
		if strings.Count(s.Kaggle.Dataset, "/") != 1 {
			errAt("source.kaggle.dataset", "kaggle dataset must be <owner>/<slug>")
		}
		if s.Kaggle.Username == "" || s.Kaggle.Key == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "source.kaggle",
				Message:  "no credentials configured; ~/.kaggle/kaggle.json will be consulted at extract time",
			})
		}
	case "s3":
		if s.S3.Bucket == "" {
			errAt("source.s3.bucket", "s3 source requires a bucket")
		}
		if s.S3.Key == "" {
			errAt("source.s3.key", "s3 source requires an object key")
		}
	default:
		errAt("source.kind", fmt.Sprintf("unknown source kind %q (want file, http, kaggle or s3)", s.Kind))
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if p.Kind != "csv" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only csv is supported", p.Kind),
		})
	}
	if c := p.Options.String("comma", ","); len([]rune(c)) != 1 || c == "\"" || c == "\n" || c == "\r" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.comma",
			Message:  fmt.Sprintf("comma %q must be a single character other than quote or newline", c),
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	switch s.Kind {
	case "postgres", "sqlite", "mssql", "mysql":
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}

	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "storage.dsn must not be empty",
		})
	}
	for _, t := range []struct{ path, name string }{
		{"storage.primary_table", s.PrimaryTable},
		{"storage.clean_table", s.CleanTable},
	} {
		if err := sqlgen.CheckTableName(t.name); err != nil {
			issues = append(issues, Issue{Severity: SeverityError, Path: t.path, Message: err.Error()})
		}
	}
	if s.PrimaryTable != "" && strings.EqualFold(s.PrimaryTable, s.CleanTable) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.clean_table",
			Message:  "clean_table must differ from primary_table",
		})
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	for _, f := range []struct {
		path string
		v    int
	}{
		{"runtime.channel_buffer", r.ChannelBuffer},
		{"runtime.preview_rows", r.PreviewRows},
		{"runtime.http_retries", r.HTTPRetries},
	} {
		if f.v < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     f.path,
				Message:  fmt.Sprintf("%s must not be negative", f.path),
			})
		}
	}
	return issues
}

// Package config defines the JSON-serializable configuration for the titles
// ELT. A Pipeline is decoded once at startup, overlaid with environment
// overrides, validated, and then passed explicitly to every stage.
//
// Example:
//
//	{
//	  "job": "titles_elt",
//	  "work_dir": "/tmp/netflix_data",
//	  "source": { "kind": "kaggle", "filename": "netflix_titles.csv",
//	              "kaggle": { "dataset": "shivamb/netflix-shows" } },
//	  "parser": { "kind": "csv", "options": { "comma": ",", "lazy_quotes": true } },
//	  "storage": { "kind": "postgres", "dsn": "postgres://...",
//	               "primary_table": "netflix", "clean_table": "netflix_clean" },
//	  "runtime": { "channel_buffer": 1024, "preview_rows": 5, "http_retries": 3 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultJob           = "titles_elt"
	DefaultWorkDir       = "/tmp/netflix_data"
	DefaultFilename      = "netflix_titles.csv"
	DefaultKaggleDataset = "shivamb/netflix-shows"
	DefaultPrimaryTable  = "netflix"
	DefaultCleanTable    = "netflix_clean"
	DefaultChannelBuffer = 1024
	DefaultPreviewRows   = 5
	DefaultHTTPRetries   = 3
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the pipeline in logs and metrics.
	Job string `json:"job"`

	// WorkDir is where the extract stage places the acquired CSV.
	WorkDir string `json:"work_dir"`

	Source  Source        `json:"source"`
	Parser  Parser        `json:"parser"`
	Storage Storage       `json:"storage"`
	Runtime RuntimeConfig `json:"runtime"`
}

// RuntimeConfig holds tuning knobs. Zero means "use the default".
type RuntimeConfig struct {
	// ChannelBuffer bounds the record channel between the CSV reader and the
	// bulk copy.
	ChannelBuffer int `json:"channel_buffer"`

	// PreviewRows is how many rows extract logs as a sanity sample.
	PreviewRows int `json:"preview_rows"`

	// HTTPRetries is the retry budget for http and kaggle downloads.
	HTTPRetries int `json:"http_retries"`
}

// Source identifies where the dataset comes from.
type Source struct {
	// Kind is one of file, http, kaggle, s3.
	Kind string `json:"kind"`

	// Filename is the CSV name expected in WorkDir after acquisition.
	Filename string `json:"filename"`

	File   SourceFile   `json:"file"`
	HTTP   SourceHTTP   `json:"http"`
	Kaggle SourceKaggle `json:"kaggle"`
	S3     SourceS3     `json:"s3"`
}

// SourceFile points at a CSV already on local disk.
type SourceFile struct {
	Path string `json:"path"`
}

// SourceHTTP downloads a CSV or zip archive from a URL.
type SourceHTTP struct {
	URL                string `json:"url"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

// SourceKaggle downloads a public dataset archive through the Kaggle API.
// Credentials are usually supplied via KAGGLE_USERNAME and KAGGLE_KEY or
// ~/.kaggle/kaggle.json rather than the pipeline file.
type SourceKaggle struct {
	Dataset  string `json:"dataset"`
	Username string `json:"username"`
	Key      string `json:"key"`
	// BaseURL overrides the API root (tests, mirrors).
	BaseURL string `json:"base_url"`
}

// SourceS3 reads one object from an S3-compatible store.
type SourceS3 struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	PathStyle bool   `json:"path_style"`
}

// Parser configures how the CSV is read.
type Parser struct {
	// Kind is "csv"; it is the only supported format.
	Kind string `json:"kind"`

	// Options recognized for csv: comma (string), lazy_quotes (bool).
	Options Options `json:"options"`
}

// Storage selects the relational store and the two target tables.
type Storage struct {
	// Kind is one of postgres, sqlite, mssql, mysql.
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`

	// PrimaryTable is the durable keyed table; CleanTable is the derived,
	// filtered copy. Both accept an optional schema prefix.
	PrimaryTable string `json:"primary_table"`
	CleanTable   string `json:"clean_table"`
}

// Load decodes a Pipeline from r. Unknown fields are rejected so typos in a
// pipeline file surface immediately.
func Load(r io.Reader) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}

// LoadFile reads the pipeline file at path, applies defaults and then
// environment overrides from os.Getenv.
func LoadFile(path string) (Pipeline, error) {
	return LoadFileEnv(path, os.Getenv)
}

// LoadFileEnv is LoadFile with an explicit environment lookup.
func LoadFileEnv(path string, getenv func(string) string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	p, err := Load(f)
	if err != nil {
		return Pipeline{}, err
	}
	p.ApplyDefaults()
	p.ApplyEnv(getenv)
	return p, nil
}

// ApplyDefaults fills zero-valued settings.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = DefaultJob
	}
	if p.WorkDir == "" {
		p.WorkDir = DefaultWorkDir
	}
	if p.Source.Filename == "" {
		p.Source.Filename = DefaultFilename
	}
	if p.Source.Kind == "kaggle" && p.Source.Kaggle.Dataset == "" {
		p.Source.Kaggle.Dataset = DefaultKaggleDataset
	}
	if p.Parser.Kind == "" {
		p.Parser.Kind = "csv"
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	if p.Storage.PrimaryTable == "" {
		p.Storage.PrimaryTable = DefaultPrimaryTable
	}
	if p.Storage.CleanTable == "" {
		p.Storage.CleanTable = DefaultCleanTable
	}
	p.Runtime.ChannelBuffer = pickInt(p.Runtime.ChannelBuffer, DefaultChannelBuffer)
	p.Runtime.PreviewRows = pickInt(p.Runtime.PreviewRows, DefaultPreviewRows)
	p.Runtime.HTTPRetries = pickInt(p.Runtime.HTTPRetries, DefaultHTTPRetries)
}

// Options fetches typed values from a free-form JSON object, returning def
// when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. encoding/json decodes numbers as
// float64, which is accepted and truncated.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON decodes a missing or null object to an empty, non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

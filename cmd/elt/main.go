// Command elt runs the titles ELT: extract the dataset, load it into the
// primary table and rebuild the clean table. An orchestrator invokes one
// stage at a time (-stage extract|load|transform) or the whole pipeline
// (-stage all). Each invocation prints one JSON result line on stdout and
// exits with a status that tells the orchestrator whether to retry:
//
//	0   success
//	65  bad input data (missing columns, unparsable field); do not retry
//	70  integrity violation in the store; do not retry
//	75  temporary failure (acquisition, connectivity, canceled); retry
//	78  invalid configuration
//	1   internal error
//
// At most one run may write to a given primary table at a time; that is
// the orchestrator's responsibility.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"elt/internal/config"
	"elt/internal/pipeline"
	"elt/internal/storage"

	// register all backends with the storage factory.
	_ "elt/internal/storage/all"
)

const (
	exitOK     = 0
	exitUsage  = 2
	exitConfig = 78 // EX_CONFIG
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

// result is the single JSON line printed per invocation.
type result struct {
	Stage       string            `json:"stage"`
	Rows        *int64            `json:"rows,omitempty"`
	Path        string            `json:"path,omitempty"`
	Size        int64             `json:"size,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Summary     *pipeline.Summary `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Retryable   bool              `json:"retryable,omitempty"`
}

func run(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("elt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath        = fs.String("config", "configs/pipelines/titles.json", "pipeline config JSON path")
		stage          = fs.String("stage", "all", "stage to run: extract, load, transform or all")
		csvPath        = fs.String("csv", "", "CSV to load (default: <work_dir>/<source.filename>)")
		validate       = fs.Bool("validate", false, "validate the configuration and exit")
		verbose        = fs.Bool("v", false, "enable verbose logs")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: none, pushgateway or datadog (env METRICS_BACKEND)")
		pushURL        = fs.String("pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
		dogstatsdAddr  = fs.String("dogstatsd-addr", "", "DogStatsD address (env DD_DOGSTATSD_URL)")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: elt -config cfg.json [-stage extract|load|transform|all] [-csv path] [-validate] [-v]\n\n")
		fmt.Fprintf(stderr, "Run at most one elt per primary table at a time.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	log.SetOutput(stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	switch *stage {
	case pipeline.StageExtract, pipeline.StageLoad, pipeline.StageTransform, "all":
	default:
		fmt.Fprintf(stderr, "unknown -stage %q\n", *stage)
		return exitUsage
	}

	p, err := config.LoadFileEnv(*cfgPath, getenv)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitConfig
	}
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("config: invalid: %s", *cfgPath)
		return exitConfig
	}
	if *validate {
		log.Printf("config: valid: %s", *cfgPath)
		return exitOK
	}

	flush := setupMetrics(metricsConfig{
		backend:       pick(*metricsBackend, getenv("METRICS_BACKEND")),
		job:           p.Job,
		pushURL:       pick(*pushURL, getenv("PUSHGATEWAY_URL")),
		dogstatsdAddr: pick(*dogstatsdAddr, getenv("DD_DOGSTATSD_URL")),
		verbose:       *verbose,
	})
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if *verbose {
		log.Printf("elt: stage=%s source=%s storage=%s primary=%s clean=%s",
			*stage, p.Source.Kind, p.Storage.Kind, p.Storage.PrimaryTable, p.Storage.CleanTable)
	}

	res, err := execute(ctx, p, *stage, *csvPath, *verbose)
	code := exitOK
	if err != nil {
		kind := pipeline.KindOf(err)
		res.Error, res.Kind, res.Retryable = err.Error(), kind.String(), kind.Retryable()
		code = kind.ExitCode()
		log.Printf("elt: stage=%s failed: %v", *stage, err)
	}
	if err := json.NewEncoder(stdout).Encode(res); err != nil {
		log.Printf("elt: write result: %v", err)
	}
	if *verbose {
		log.Printf("elt: completed in %s exit=%d", time.Since(start).Truncate(time.Millisecond), code)
	}
	return code
}

func execute(ctx context.Context, p config.Pipeline, stage, csvPath string, verbose bool) (result, error) {
	res := result{Stage: stage}

	if stage == pipeline.StageExtract {
		r := pipeline.New(p, nil)
		r.Verbose = verbose
		art, err := r.Extract(ctx)
		res.Path, res.Size, res.Fingerprint = art.Path, art.Size, art.Fingerprint
		return res, err
	}

	st, err := storage.New(ctx, storage.Config{
		Kind:         p.Storage.Kind,
		DSN:          p.Storage.DSN,
		PrimaryTable: p.Storage.PrimaryTable,
		CleanTable:   p.Storage.CleanTable,
	})
	if err != nil {
		return res, err
	}
	defer st.Close()

	r := pipeline.New(p, st)
	r.Verbose = verbose

	switch stage {
	case pipeline.StageLoad:
		if csvPath == "" {
			csvPath = filepath.Join(p.WorkDir, p.Source.Filename)
		}
		n, err := r.Load(ctx, csvPath)
		res.Rows = &n
		return res, err
	case pipeline.StageTransform:
		n, err := r.Transform(ctx)
		res.Rows = &n
		return res, err
	default:
		sum, err := r.Run(ctx)
		res.Summary = &sum
		return res, err
	}
}

// pick returns a when set, otherwise b.
func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

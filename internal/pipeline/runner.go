// Package pipeline runs the three stages of the titles ELT (extract, load,
// transform) against an explicit configuration, tracks each run in a state
// machine and classifies failures into retryable and fatal kinds.
//
// Every stage can be invoked on its own, as an orchestrator would, or in
// order through Run. Load and transform are idempotent: re-running either
// with the same input leaves the store in the same state.
package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"elt/internal/config"
	"elt/internal/datasource/file"
	"elt/internal/extract"
	"elt/internal/load"
	"elt/internal/metrics"
	"elt/internal/parser/csv"
	"elt/internal/storage"
	"elt/internal/transform"
)

// Stage names, as reported in errors, metrics and CLI output.
const (
	StageExtract   = "extract"
	StageLoad      = "load"
	StageTransform = "transform"
)

// recordStep is a test seam over metrics.RecordStep.
var recordStep = metrics.RecordStep

// progressEvery is how often the bulk copy logs progress, in rows.
const progressEvery = 100_000

// Runner executes stages for one pipeline configuration.
type Runner struct {
	Pipeline config.Pipeline

	// Store is required by Load, Transform and Run; Extract does not use it.
	Store storage.Store

	// Extractor overrides the one built from Pipeline (tests, custom S3
	// clients).
	Extractor *extract.Extractor

	// Observer, when set, sees every state transition.
	Observer Observer
	Verbose  bool

	machine *Machine
}

// New returns a Runner for p writing to st.
func New(p config.Pipeline, st storage.Store) *Runner {
	return &Runner{Pipeline: p, Store: st}
}

// Summary describes a full run.
type Summary struct {
	RunID    string           `json:"run_id"`
	Artifact extract.Artifact `json:"artifact"`
	Staged   int64            `json:"staged"`
	Merged   int64            `json:"merged"`
	Clean    int64            `json:"clean"`
	State    string           `json:"state"`
	Elapsed  time.Duration    `json:"elapsed_ns"`
}

// State returns the state the most recent invocation ended in.
func (r *Runner) State() State {
	if r.machine == nil {
		return Idle
	}
	return r.machine.State()
}

func (r *Runner) begin() {
	r.machine = NewMachine(r.Observer, r.Verbose)
}

func (r *Runner) done() error {
	if err := r.machine.To(Done); err != nil {
		return &StageError{Stage: "pipeline", Kind: KindInternal, Err: err}
	}
	return nil
}

// step enters state, runs fn and records its outcome.
func (r *Runner) step(ctx context.Context, stage string, enter State, fn func(context.Context) error) error {
	start := time.Now()
	err := r.machine.To(enter)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = fn(ctx)
	}
	recordStep(r.Pipeline.Job, stage, err, time.Since(start))
	if err != nil {
		r.machine.Fail()
		err = stageError(stage, err)
		log.Printf("pipeline: stage=%s failed kind=%s retryable=%t err=%v",
			stage, KindOf(err), KindOf(err).Retryable(), err)
		return err
	}
	return nil
}

// Extract acquires the dataset and returns where it landed.
func (r *Runner) Extract(ctx context.Context) (extract.Artifact, error) {
	r.begin()
	art, err := r.extract(ctx)
	if err != nil {
		return art, err
	}
	return art, r.done()
}

func (r *Runner) extract(ctx context.Context) (extract.Artifact, error) {
	var art extract.Artifact
	err := r.step(ctx, StageExtract, Extracting, func(ctx context.Context) error {
		e := r.Extractor
		if e == nil {
			e = &extract.Extractor{Pipeline: r.Pipeline}
		}
		var err error
		art, err = e.Acquire(ctx)
		return err
	})
	return art, err
}

// Load validates the CSV at path and merges it into the primary table. It
// returns the number of rows staged.
func (r *Runner) Load(ctx context.Context, path string) (int64, error) {
	r.begin()
	res, err := r.load(ctx, path)
	if err != nil {
		return 0, err
	}
	return res.Staged, r.done()
}

func (r *Runner) load(ctx context.Context, path string) (load.Result, error) {
	var res load.Result
	err := r.step(ctx, StageLoad, Validating, func(ctx context.Context) error {
		if r.Store == nil {
			return errors.New("no store configured")
		}
		l := &load.Loader{
			Store: r.Store,
			Dataset: csv.Dataset{
				Source:  file.NewLocal(path),
				Options: csv.OptionsFrom(r.Pipeline.Parser),
			},
			Job:           r.Pipeline.Job,
			ChannelBuffer: r.Pipeline.Runtime.ChannelBuffer,
			ProgressEvery: progressEvery,
			OnPhase: func(p load.Phase) error {
				switch p {
				case load.PhaseStaging:
					return r.machine.To(Staging)
				case load.PhaseMerging:
					return r.machine.To(Merging)
				}
				return nil
			},
		}
		var err error
		res, err = l.Load(ctx)
		return err
	})
	return res, err
}

// Transform rebuilds the clean table and returns its row count.
func (r *Runner) Transform(ctx context.Context) (int64, error) {
	r.begin()
	n, err := r.transform(ctx)
	if err != nil {
		return 0, err
	}
	return n, r.done()
}

func (r *Runner) transform(ctx context.Context) (int64, error) {
	var n int64
	err := r.step(ctx, StageTransform, Transforming, func(ctx context.Context) error {
		if r.Store == nil {
			return errors.New("no store configured")
		}
		b := &transform.Builder{Store: r.Store, Job: r.Pipeline.Job}
		var err error
		n, err = b.Rebuild(ctx)
		return err
	})
	return n, err
}

// Run executes extract, load and transform in order, stopping at the first
// failure. The returned summary is filled as far as the run got.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	r.begin()
	sum := Summary{RunID: uuid.NewString()}
	log.Printf("pipeline: run=%s job=%s source=%s storage=%s",
		sum.RunID, r.Pipeline.Job, r.Pipeline.Source.Kind, r.Pipeline.Storage.Kind)

	finish := func(err error) (Summary, error) {
		sum.State = r.State().String()
		sum.Elapsed = time.Since(start)
		return sum, err
	}

	art, err := r.extract(ctx)
	if err != nil {
		return finish(err)
	}
	sum.Artifact = art

	res, err := r.load(ctx, art.Path)
	if err != nil {
		return finish(err)
	}
	sum.Staged, sum.Merged = res.Staged, res.Merged

	if sum.Clean, err = r.transform(ctx); err != nil {
		return finish(err)
	}
	if err := r.done(); err != nil {
		return finish(err)
	}
	log.Printf("pipeline: run=%s done staged=%d merged=%d clean=%d elapsed=%s",
		sum.RunID, sum.Staged, sum.Merged, sum.Clean, time.Since(start).Truncate(time.Millisecond))
	return finish(nil)
}

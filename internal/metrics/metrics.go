// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the ELT stages.
//
// It exposes a narrow Backend interface (counters and durations) and a global,
// pluggable backend that defaults to a no-op implementation, so recording is
// always safe even when no real backend is configured. Concrete systems live
// in subpackages (prompush, datadog) and are installed once by the binary.
package metrics

import "time"

// Metric names emitted by this package.
const (
	StepTotal           = "elt_step_total"
	StepDurationSeconds = "elt_step_duration_seconds"
	RecordsTotal        = "elt_records_total"
	BatchesTotal        = "elt_batches_total"
)

// Record kinds passed to RecordRow.
const (
	KindStaged = "staged"
	KindMerged = "merged"
	KindClean  = "clean"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
// Call it once at startup, before any stage runs.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of a stage (extract, load, transform) and
// observes its duration, labeled success or failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind
// (KindStaged, KindMerged, KindClean). Non-positive deltas are ignored.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches counts committed staging batches.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}

package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"elt/internal/metrics"
)

func newTestBackend(t *testing.T, url string) *Backend {
	t.Helper()
	b, err := NewBackend("titles_elt", url)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("titles_elt", ""); err == nil {
		t.Fatal("empty gateway URL: want error")
	}
	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.jobName != "elt" {
		t.Fatalf("default job = %q, want elt", b.jobName)
	}
}

// One load and transform, as the pipeline reports them, lands on the right
// collectors.
func TestIncCounter_PipelineMetrics(t *testing.T) {
	t.Parallel()
	b := newTestBackend(t, "http://example.invalid")

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"job": "titles_elt", "step": "load", "status": "success"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"job": "titles_elt", "step": "load", "status": "failure"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"job": "titles_elt", "step": "load", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 8807, metrics.Labels{"kind": metrics.KindStaged})
	b.IncCounter(metrics.RecordsTotal, 8807, metrics.Labels{"kind": metrics.KindMerged})
	b.IncCounter(metrics.RecordsTotal, 7976, metrics.Labels{"kind": metrics.KindClean})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.IncCounter("elt_unknown_total", 5, metrics.Labels{"kind": metrics.KindStaged})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"load success", counterValue(t, b.stepCounter.WithLabelValues("load", "success")), 2},
		{"load failure", counterValue(t, b.stepCounter.WithLabelValues("load", "failure")), 1},
		{"staged", counterValue(t, b.recordCounter.WithLabelValues(metrics.KindStaged)), 8807},
		{"merged", counterValue(t, b.recordCounter.WithLabelValues(metrics.KindMerged)), 8807},
		{"clean", counterValue(t, b.recordCounter.WithLabelValues(metrics.KindClean)), 7976},
		{"batches", counterValue(t, b.batchCounter), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestObserveHistogram_StepDuration(t *testing.T) {
	t.Parallel()
	b := newTestBackend(t, "http://example.invalid")

	lbls := metrics.Labels{"step": "transform", "status": "success"}
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, lbls)
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.75, lbls)
	b.ObserveHistogram("elt_other_seconds", 9, lbls)

	obs, ok := b.stepDuration.WithLabelValues("transform", "success").(prometheus.Metric)
	if !ok {
		t.Fatal("summary observer is not a prometheus.Metric")
	}
	var m dto.Metric
	if err := obs.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetSummary().GetSampleCount(); got != 2 {
		t.Fatalf("sample count = %d, want 2", got)
	}
	if got := m.GetSummary().GetSampleSum(); got != 1.0 {
		t.Fatalf("sample sum = %v, want 1", got)
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"accepted", http.StatusAccepted, false},
		{"gateway error", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			type pushed struct {
				method, path string
				body         int
			}
			reqs := make(chan pushed, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				reqs <- pushed{r.Method, r.URL.Path, len(b)}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			b := newTestBackend(t, srv.URL)
			b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "extract", "status": "success"})

			err := b.Flush()
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), srv.URL) {
					t.Fatalf("Flush error = %v, want one naming %s", err, srv.URL)
				}
				return
			}
			if err != nil {
				t.Fatalf("Flush: %v", err)
			}
			// Push replaces the whole job group.
			got := <-reqs
			if got.method != http.MethodPut || got.path != "/metrics/job/titles_elt" || got.body == 0 {
				t.Fatalf("push request = %+v", got)
			}
		})
	}
}

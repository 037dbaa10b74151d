package main

import (
	"log"

	"elt/internal/metrics"
	"elt/internal/metrics/datadog"
	"elt/internal/metrics/prompush"
)

type metricsConfig struct {
	backend       string
	job           string
	pushURL       string
	dogstatsdAddr string
	verbose       bool
}

// setupMetrics installs the selected backend and returns the function that
// flushes it at exit. A backend that fails to start leaves the no-op one in
// place; metrics never fail a run.
func setupMetrics(c metricsConfig) (flush func()) {
	noop := func() {}

	var (
		b   metrics.Backend
		err error
	)
	switch c.backend {
	case "", "none":
		if c.verbose {
			log.Printf("metrics: disabled")
		}
		return noop
	case "pushgateway":
		url := pick(c.pushURL, "http://localhost:9091")
		b, err = prompush.NewBackend(c.job, url)
		if err == nil {
			log.Printf("metrics: backend=pushgateway url=%s job=%s", url, c.job)
		}
	case "datadog":
		addr := pick(c.dogstatsdAddr, "127.0.0.1:8125")
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "elt.",
			GlobalTags: []string{"job:" + c.job},
		})
		if err == nil {
			log.Printf("metrics: backend=datadog addr=%s", addr)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", c.backend)
		return noop
	}
	if err != nil {
		log.Printf("metrics: %v; using nop", err)
		return noop
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

// Package metrics collects Prometheus metrics for one seeding run. A run is a
// short-lived CLI process, so metrics are written to a node-exporter textfile
// at the end instead of being scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nbseed"

// Run holds the metrics of one run in a private registry.
type Run struct {
	registry *prometheus.Registry
	netbox   string

	objectsTotal   *prometheus.CounterVec
	ensureDuration *prometheus.HistogramVec
	stepDuration   *prometheus.GaugeVec
	runDuration    prometheus.Gauge
	runSuccess     prometheus.Gauge
	lastRun        prometheus.Gauge
}

// NewRun creates the metric set for a run against the given NetBox URL.
func NewRun(netboxURL string) *Run {
	labels := prometheus.Labels{"netbox": netboxURL}
	r := &Run{
		registry: prometheus.NewRegistry(),
		netbox:   netboxURL,
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "reconcile",
				Name:        "objects_total",
				Help:        "Objects ensured by kind and outcome",
				ConstLabels: labels,
			},
			[]string{"kind", "state"},
		),
		ensureDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "reconcile",
				Name:        "ensure_duration_seconds",
				Help:        "Time to ensure one object, including the fetch after a conflict",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
			},
			[]string{"kind"},
		),
		stepDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "reconcile",
				Name:        "step_duration_seconds",
				Help:        "Duration of each reconcile step in the last run",
				ConstLabels: labels,
			},
			[]string{"step"},
		),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Duration of the last run",
			ConstLabels: labels,
		}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_success",
			Help:        "1 if the last run completed without error",
			ConstLabels: labels,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last run finished",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(
		r.objectsTotal,
		r.ensureDuration,
		r.stepDuration,
		r.runDuration,
		r.runSuccess,
		r.lastRun,
	)
	return r
}

// Registry exposes the run's registry, e.g. for an HTTP handler.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// RecordObject counts one ensured object.
func (r *Run) RecordObject(kind, state string, d time.Duration) {
	r.objectsTotal.WithLabelValues(kind, state).Inc()
	r.ensureDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordStep records how long one step took.
func (r *Run) RecordStep(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Set(d.Seconds())
}

// Finish records the run's total duration and result.
func (r *Run) Finish(d time.Duration, err error) {
	r.runDuration.Set(d.Seconds())
	if err == nil {
		r.runSuccess.Set(1)
	} else {
		r.runSuccess.Set(0)
	}
	r.lastRun.SetToCurrentTime()
}

// WriteTextfile writes the registry in text exposition format for the
// node-exporter textfile collector. The write is atomic.
func (r *Run) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

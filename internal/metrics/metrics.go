// Package metrics exposes the module's Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the endpoint and workers report into.
// A nil *Metrics is valid and records nothing, so tests and callers
// that don't scrape can pass nil.
type Metrics struct {
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// Register builds the collectors and registers them with reg,
// tolerating collectors already registered by an earlier call.
func Register(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "affix"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Count of files uploaded, by storage.",
		}, []string{"storage"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative size of uploaded files.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Count of processed background jobs, by operation and outcome.",
		}, []string{"op", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Latency of background jobs, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	collectors := []prometheus.Collector{m.uploads, m.uploadBytes, m.jobs, m.jobDuration}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				collector = are.ExistingCollector
				continue
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordUpload counts one uploaded file and its size.
func (m *Metrics) RecordUpload(storage string, size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(storage).Inc()
	m.uploadBytes.Add(float64(size))
}

// RecordJob counts one processed job and observes its duration.
// Outcomes: "ok", "superseded", "error".
func (m *Metrics) RecordJob(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(op, outcome).Inc()
	m.jobDuration.WithLabelValues(op).Observe(d.Seconds())
}

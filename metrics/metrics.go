// Package metrics holds the Prometheus collectors of the scheduler, the batch
// runner and the price cache. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the collector set of the service
type Metrics struct {
	// job executions by job and status (success, error, skipped)
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	// per-entity batch outcomes (success, error)
	BatchEntities       *prometheus.CounterVec
	BatchCommitFailures *prometheus.CounterVec
	// hit, miss, fetched, invalid, unavailable, store_error
	CacheLookups *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by outcome",
		}, []string{"job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job execution time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		BatchEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "batch",
			Name:      "entities_total",
			Help:      "Entities processed by batch jobs by outcome",
		}, []string{"job", "outcome"}),
		BatchCommitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "batch",
			Name:      "commit_failures_total",
			Help:      "Batches rolled back because the commit failed",
		}, []string{"job"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "pricecache",
			Name:      "lookups_total",
			Help:      "Price cache lookups by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.JobRuns, m.JobDuration, m.BatchEntities, m.BatchCommitFailures, m.CacheLookups)
	}
	return m
}

func (m *Metrics) ObserveJob(job, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
	if status != "skipped" {
		m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveBatch(job string, success, failed int, commitFailed bool) {
	if m == nil {
		return
	}
	m.BatchEntities.WithLabelValues(job, "success").Add(float64(success))
	m.BatchEntities.WithLabelValues(job, "error").Add(float64(failed))
	if commitFailed {
		m.BatchCommitFailures.WithLabelValues(job).Inc()
	}
}

func (m *Metrics) ObserveLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and
// reconciliation passes.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	rows          *prometheus.CounterVec
	staleDeleted  *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddRows counts reconciled rows for a source by outcome
// (processed, rejected, failed).
func (m *Metrics) AddRows(source, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rows.WithLabelValues(source, outcome).Add(float64(count))
}

// AddStaleDeleted counts products soft-deleted at the end of a pass.
func (m *Metrics) AddStaleDeleted(source string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.staleDeleted.WithLabelValues(source).Add(float64(count))
}

// AddNotification counts one dispatched product notification.
func (m *Metrics) AddNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_rows_total",
		Help: "Reconciled rows grouped by source and outcome.",
	}, []string{"source", "outcome"})
	staleDeleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_stale_deleted_total",
		Help: "Products soft-deleted because a pass no longer listed them.",
	}, []string{"source"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_notifications_total",
		Help: "Product notifications dispatched grouped by kind.",
	}, []string{"kind"})
	registerer.MustRegister(runs, failures, duration, rows, staleDeleted, notifications)
	return &Metrics{
		runs:          runs,
		failures:      failures,
		duration:      duration,
		rows:          rows,
		staleDeleted:  staleDeleted,
		notifications: notifications,
	}
}

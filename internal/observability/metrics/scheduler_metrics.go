package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonCanceled         = "canceled"
	SchedulerJobReasonError            = "error"
)

// SchedulerMetrics tracks background job runs.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobTimeouts *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	processed   *prometheus.CounterVec
}

func NewSchedulerMetrics() *SchedulerMetrics {
	return NewSchedulerMetricsWith(prometheus.DefaultRegisterer)
}

func NewSchedulerMetricsWith(registerer prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_scheduler_job_errors_total",
			Help: "Scheduler job failures by reason.",
		}, []string{"job", "reason"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_scheduler_job_timeouts_total",
			Help: "Scheduler jobs that hit their deadline.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_scheduler_job_duration_seconds",
			Help:    "Scheduler job latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_scheduler_items_processed_total",
			Help: "Items handled by scheduler jobs by outcome.",
		}, []string{"job", "outcome"}),
	}
	m.jobRuns = registerOrExisting(registerer, m.jobRuns).(*prometheus.CounterVec)
	m.jobErrors = registerOrExisting(registerer, m.jobErrors).(*prometheus.CounterVec)
	m.jobTimeouts = registerOrExisting(registerer, m.jobTimeouts).(*prometheus.CounterVec)
	m.jobDuration = registerOrExisting(registerer, m.jobDuration).(*prometheus.HistogramVec)
	m.processed = registerOrExisting(registerer, m.processed).(*prometheus.CounterVec)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerError(err)).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) AddProcessed(job, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.processed.WithLabelValues(job, outcome).Add(float64(count))
}

func ClassifySchedulerError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return SchedulerJobReasonCanceled
	default:
		return SchedulerJobReasonError
	}
}

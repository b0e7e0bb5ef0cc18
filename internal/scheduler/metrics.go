package scheduler

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type jobMetrics struct {
	runs      *prometheus.CounterVec
	errors    *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func newJobMetrics(reg prometheus.Registerer) (*jobMetrics, error) {
	m := &jobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_scheduler_job_errors_total",
			Help: "Scheduler job executions that failed.",
		}, []string{"job"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_scheduler_job_timeouts_total",
			Help: "Scheduler job executions that hit their deadline.",
		}, []string{"job"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_scheduler_job_processed_total",
			Help: "Rows handled by scheduler jobs.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "creditdesk_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	collectors := []prometheus.Collector{m.runs, m.errors, m.timeouts, m.processed, m.duration}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			collectors[i] = already.ExistingCollector
		}
	}
	m.runs = collectors[0].(*prometheus.CounterVec)
	m.errors = collectors[1].(*prometheus.CounterVec)
	m.timeouts = collectors[2].(*prometheus.CounterVec)
	m.processed = collectors[3].(*prometheus.CounterVec)
	m.duration = collectors[4].(*prometheus.HistogramVec)
	return m, nil
}

func (m *jobMetrics) incRun(job string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
}

func (m *jobMetrics) incError(job string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(job).Inc()
}

func (m *jobMetrics) incTimeout(job string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(job).Inc()
}

func (m *jobMetrics) addProcessed(job string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.processed.WithLabelValues(job).Add(float64(n))
}

func (m *jobMetrics) observeDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}

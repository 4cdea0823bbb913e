// Package metrics defines the Prometheus instruments of the scheduler and the
// sync orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketsync"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Metrics holds every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobRuns        *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	SyncEntities   *prometheus.CounterVec
	SyncRecords    *prometheus.CounterVec
	SchedulerState prometheus.Gauge
}

// New creates and registers the instruments on reg, the default registerer
// when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Job executions by job and outcome",
		}, []string{"job", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Job execution time",
			Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		SyncEntities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "entities_total",
			Help:      "Entities processed by sync unit and outcome",
		}, []string{"unit", "outcome"}),
		SyncRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Rows upserted by sync unit",
		}, []string{"unit"}),
		SchedulerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "running",
			Help:      "1 while the dispatch loop runs",
		}),
	}
}

// ObserveJob records one job execution
func (m *Metrics) ObserveJob(job, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// ObserveSync records the entity outcomes and written rows of a sync unit
func (m *Metrics) ObserveSync(unit string, succeeded, failed, records int) {
	if m == nil {
		return
	}
	m.SyncEntities.WithLabelValues(unit, OutcomeSuccess).Add(float64(succeeded))
	m.SyncEntities.WithLabelValues(unit, OutcomeFailure).Add(float64(failed))
	m.SyncRecords.WithLabelValues(unit).Add(float64(records))
}

// SetRunning flips the scheduler state gauge
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.SchedulerState.Set(1)
	} else {
		m.SchedulerState.Set(0)
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveJob("health_check", OutcomeSuccess, 10*time.Millisecond)
	m.ObserveJob("health_check", OutcomeSuccess, 20*time.Millisecond)
	m.ObserveSync("daily_data", 3, 1, 42)
	m.SetRunning(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("health_check", OutcomeSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SyncEntities.WithLabelValues("daily_data", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncEntities.WithLabelValues("daily_data", OutcomeFailure)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.SyncRecords.WithLabelValues("daily_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerState))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveJob("x", OutcomeFailure, time.Second)
	m.ObserveSync("x", 1, 1, 1)
	m.SetRunning(false)
}

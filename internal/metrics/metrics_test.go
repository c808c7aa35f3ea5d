package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.identifiers)
	assert.NotNil(t, collector.lookupDuration)
	assert.NotNil(t, collector.departmentsDone)
	assert.NotNil(t, collector.inFlight)
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestObserveOutcome(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	kinds := []types.OutcomeKind{
		types.OutcomeNotFound,
		types.OutcomeNotFound,
		types.OutcomeFound,
		types.OutcomeSessionFailure,
	}
	for _, k := range kinds {
		collector.ObserveOutcome(types.Outcome{Kind: k}, 1, 200*time.Millisecond)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.identifiers.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.identifiers.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.identifiers.WithLabelValues("session_failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.identifiers.WithLabelValues("checksum_rejected")))
}

func TestDepartmentLifecycle(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	for i, d := range []types.DepartmentCode{"KI1I", "WA1M", "GD1G"} {
		collector.DepartmentStarted(i, d)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.inFlight))

	collector.DepartmentFinished(worker.Result{Department: "KI1I"})
	collector.DepartmentFinished(worker.Result{Department: "WA1M", Err: errors.New("boom")})
	collector.DepartmentFinished(worker.Result{Department: "GD1G", Interrupted: true, Err: errors.New("canceled")})

	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inFlight))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.departmentsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.departmentsDone.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.departmentsDone.WithLabelValues("abandoned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.departmentsDone.WithLabelValues("interrupted")))
}

func TestQueueAndSnapshot(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	collector.SetQueuePending(42)
	collector.RecordSnapshot(nil)
	collector.RecordSnapshot(nil)
	collector.RecordSnapshot(errors.New("disk full"))

	assert.Equal(t, 42.0, testutil.ToFloat64(collector.queuePending))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.snapshotWrites.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.snapshotWrites.WithLabelValues("error")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var collector *Collector
	assert.NotPanics(t, func() {
		collector.ObserveOutcome(types.Outcome{Kind: types.OutcomeFound}, 1, time.Second)
		collector.DepartmentStarted(0, "KI1I")
		collector.DepartmentFinished(worker.Result{})
		collector.SetQueuePending(1)
		collector.RecordSnapshot(nil)
	})
}

func TestHandler(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())
	collector.ObserveOutcome(types.Outcome{Kind: types.OutcomeFound}, 1, time.Second)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kw_identifiers_total{outcome="found"} 1`)
	assert.Contains(t, rec.Body.String(), "kw_lookup_duration_seconds_bucket")
}

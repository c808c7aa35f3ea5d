package tracker

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestTracker(t *testing.T, codes ...types.DepartmentCode) *Tracker {
	t.Helper()
	tr := New("run-1")
	clock := time.UnixMilli(1_700_000_000_000)
	tr.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	require.NoError(t, tr.Register(codes...))
	return tr
}

func outcome(dept types.DepartmentCode, n int, kind types.OutcomeKind) types.Outcome {
	return types.Outcome{ID: types.BookID{Department: dept, Number: n, Control: '0'}, Kind: kind}
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestRegister(t *testing.T) {
	tr := newTestTracker(t, "KI1I", "WA1M")

	p, err := tr.Get("KI1I")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, p.Status)
	assert.Equal(t, -1, p.WorkerID)

	// 重複登記不報錯，也不重置進度
	tr.DepartmentStarted(0, "KI1I")
	require.NoError(t, tr.Register("KI1I", "KI1I"))
	p, err = tr.Get("KI1I")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInFlight, p.Status)

	assert.Error(t, tr.Register("GD1G", "bad"))

	_, err = tr.Get("GD1G")
	assert.ErrorIs(t, err, ErrDepartmentNotFound)
}

func TestLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		result worker.Result
		want   types.DepartmentStatus
		errMsg string
	}{
		{"completed", worker.Result{Department: "KI1I"}, types.StatusCompleted, ""},
		{"abandoned", worker.Result{Department: "KI1I", Err: errors.New("session lost")}, types.StatusAbandoned, "session lost"},
		{"interrupted", worker.Result{Department: "KI1I", Err: errors.New("context canceled"), Interrupted: true}, types.StatusInFlight, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t, "KI1I")
			tr.DepartmentStarted(2, "KI1I")

			p, _ := tr.Get("KI1I")
			assert.Equal(t, types.StatusInFlight, p.Status)
			assert.Equal(t, 2, p.WorkerID)

			tr.ObserveOutcome(outcome("KI1I", 0, types.OutcomeNotFound), 1, 0)
			tr.ObserveOutcome(outcome("KI1I", 1, types.OutcomeFound), 2, 0)
			tr.DepartmentFinished(tt.result)

			p, _ = tr.Get("KI1I")
			assert.Equal(t, tt.want, p.Status)
			assert.Equal(t, tt.errMsg, p.Error)
			assert.Equal(t, 2, p.Cursor)
			assert.Equal(t, 1, p.Counts[types.OutcomeNotFound])
			assert.Equal(t, 1, p.Counts[types.OutcomeFound])
			assert.Greater(t, p.UpdatedAt, p.CreatedAt)
		})
	}
}

// Departments seeded by another process appear on first report.
func TestUnregisteredDepartment(t *testing.T) {
	tr := newTestTracker(t)
	tr.DepartmentStarted(0, "GD1G")
	p, err := tr.Get("GD1G")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInFlight, p.Status)
}

func TestListAndCounts(t *testing.T) {
	tr := newTestTracker(t, "WA1M", "KI1I", "GD1G")
	tr.DepartmentStarted(0, "KI1I")
	tr.DepartmentFinished(worker.Result{Department: "KI1I"})
	tr.DepartmentStarted(1, "WA1M")

	all := tr.List("")
	require.Len(t, all, 3)
	assert.Equal(t, types.DepartmentCode("GD1G"), all[0].Code)
	assert.Equal(t, types.DepartmentCode("WA1M"), all[2].Code)

	assert.Len(t, tr.List(types.StatusCompleted), 1)
	counts := tr.StatusCounts()
	assert.Equal(t, 1, counts[types.StatusPending])
	assert.Equal(t, 1, counts[types.StatusInFlight])
	assert.Equal(t, 1, counts[types.StatusCompleted])
	assert.False(t, tr.Done())

	tr.DepartmentFinished(worker.Result{Department: "WA1M", Err: errors.New("x")})
	tr.DepartmentStarted(0, "GD1G")
	tr.DepartmentFinished(worker.Result{Department: "GD1G"})
	assert.True(t, tr.Done())
}

// ============================================================================
// Snapshot Tests
// ============================================================================

func TestSnapshotIsDeepCopy(t *testing.T) {
	tr := newTestTracker(t, "KI1I")
	tr.ObserveOutcome(outcome("KI1I", 0, types.OutcomeNotFound), 1, 0)

	snap := tr.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, SchemaVer, snap.SchemaVer)

	snap.Departments["KI1I"].Counts[types.OutcomeNotFound] = 99
	p, _ := tr.Get("KI1I")
	assert.Equal(t, 1, p.Counts[types.OutcomeNotFound])
}

func TestRestore(t *testing.T) {
	src := newTestTracker(t, "KI1I", "WA1M")
	src.DepartmentStarted(0, "KI1I")
	src.ObserveOutcome(outcome("KI1I", 41, types.OutcomeNotFound), 42, 0)
	snap := src.Snapshot()

	dst := New("other")
	require.NoError(t, dst.Restore(snap))
	assert.Equal(t, "run-1", dst.RunID())
	p, err := dst.Get("KI1I")
	require.NoError(t, err)
	assert.Equal(t, 42, p.Cursor)
	assert.Equal(t, types.StatusInFlight, p.Status)

	snap.SchemaVer = 7
	assert.ErrorIs(t, dst.Restore(snap), ErrSchemaVersion)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentReports(t *testing.T) {
	codes := make([]types.DepartmentCode, 20)
	for i := range codes {
		codes[i] = types.DepartmentCode(fmt.Sprintf("K%c1I", 'A'+i))
	}
	tr := New("run-1")
	require.NoError(t, tr.Register(codes...))

	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(id int, code types.DepartmentCode) {
			defer wg.Done()
			tr.DepartmentStarted(id, code)
			for n := 0; n < 100; n++ {
				tr.ObserveOutcome(outcome(code, n, types.OutcomeNotFound), n+1, 0)
				_ = tr.Snapshot()
			}
			tr.DepartmentFinished(worker.Result{WorkerID: id, Department: code})
		}(i, code)
	}
	wg.Wait()

	assert.True(t, tr.Done())
	for _, code := range codes {
		p, _ := tr.Get(code)
		assert.Equal(t, 100, p.Counts[types.OutcomeNotFound])
		assert.Equal(t, 100, p.Cursor)
	}
}

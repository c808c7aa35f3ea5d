package worker

// ============================================================================
// Dispatcher Test File
// Purpose: Verify queue draining, fault isolation, session lifecycle
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ============================================================================
// Test helpers
// ============================================================================

// stubSession satisfies Session; the dispatcher never drives it directly.
type stubSession struct {
	closed atomic.Int32
}

func (s *stubSession) SubmitIdentification(context.Context, map[string]string) error { return nil }
func (s *stubSession) IsControlNumberFlagged(context.Context) (bool, error)           { return false, nil }
func (s *stubSession) WaitUntilStable(context.Context, time.Duration) (bool, error)   { return true, nil }
func (s *stubSession) PageText(context.Context) (string, error)                       { return "", nil }
func (s *stubSession) ReadElementText(context.Context, string) (string, error)        { return "", nil }
func (s *stubSession) ClickElement(context.Context, string) error                     { return nil }
func (s *stubSession) NavigateToBaseURL(context.Context) error                        { return nil }
func (s *stubSession) Refresh(context.Context) error                                  { return nil }
func (s *stubSession) Close() error {
	s.closed.Add(1)
	return nil
}

func newSessions(n int) ([]Session, []*stubSession) {
	out := make([]Session, n)
	stubs := make([]*stubSession, n)
	for i := range out {
		stubs[i] = &stubSession{}
		out[i] = stubs[i]
	}
	return out, stubs
}

func departments(n int) []types.DepartmentCode {
	out := make([]types.DepartmentCode, n)
	for i := range out {
		out[i] = types.DepartmentCode(fmt.Sprintf("A%c%dZ", 'A'+i/10, i%10))
	}
	return out
}

type recordingReporter struct {
	mu       sync.Mutex
	started  map[types.DepartmentCode]int
	finished map[types.DepartmentCode]Result
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{
		started:  map[types.DepartmentCode]int{},
		finished: map[types.DepartmentCode]Result{},
	}
}

func (r *recordingReporter) DepartmentStarted(_ int, d types.DepartmentCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[d]++
}

func (r *recordingReporter) DepartmentFinished(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[res.Department] = res
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// ============================================================================
// Queue Tests
// ============================================================================

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("KI1I", "WA1M")
	require.NoError(t, q.Push(ctx, "GD1G"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, want := range []types.DepartmentCode{"KI1I", "WA1M", "GD1G"} {
		got, ok, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================================
// Dispatcher Tests
// ============================================================================

func TestDispatcher_NoSessions(t *testing.T) {
	d := NewDispatcher(NewMemoryQueue("KI1I"), func(context.Context, int, Session, types.DepartmentCode) error { return nil })
	assert.ErrorIs(t, d.Run(context.Background(), nil), ErrNoSessions)
}

// Every department is scanned exactly once, whatever the worker count.
func TestDispatcher_EachDepartmentExactlyOnce(t *testing.T) {
	tests := []struct {
		sessions    int
		departments int
	}{
		{1, 5},
		{3, 20},
		{8, 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_sessions_%d_departments", tt.sessions, tt.departments), func(t *testing.T) {
			var mu sync.Mutex
			seen := map[types.DepartmentCode]int{}
			scan := func(_ context.Context, _ int, _ Session, d types.DepartmentCode) error {
				mu.Lock()
				seen[d]++
				mu.Unlock()
				time.Sleep(time.Millisecond)
				return nil
			}

			depts := departments(tt.departments)
			sessions, stubs := newSessions(tt.sessions)
			rep := newRecordingReporter()
			d := NewDispatcher(NewMemoryQueue(depts...), scan, WithLogger(quietLogger()), WithReporter(rep))

			require.NoError(t, d.Run(context.Background(), sessions))

			assert.Len(t, seen, tt.departments)
			for _, dept := range depts {
				assert.Equal(t, 1, seen[dept], dept)
				assert.Equal(t, 1, rep.started[dept])
				assert.False(t, rep.finished[dept].Abandoned())
			}
			for i, s := range stubs {
				assert.Equal(t, int32(1), s.closed.Load(), "session %d", i)
			}
			assert.Equal(t, tt.sessions, d.WorkerCount())
			assert.False(t, d.IsRunning())
		})
	}
}

// A failing or panicking department is abandoned; the rest still run.
func TestDispatcher_FaultIsolation(t *testing.T) {
	depts := departments(10)
	boom := errors.New("element vanished")

	var scanned atomic.Int32
	scan := func(_ context.Context, _ int, _ Session, d types.DepartmentCode) error {
		scanned.Add(1)
		switch d {
		case depts[2]:
			return boom
		case depts[5]:
			panic("nil pointer in extraction")
		}
		return nil
	}

	sessions, stubs := newSessions(2)
	rep := newRecordingReporter()
	d := NewDispatcher(NewMemoryQueue(depts...), scan, WithLogger(quietLogger()), WithReporter(rep))

	require.NoError(t, d.Run(context.Background(), sessions))

	assert.Equal(t, int32(10), scanned.Load())
	assert.ErrorIs(t, rep.finished[depts[2]].Err, boom)
	assert.True(t, rep.finished[depts[2]].Abandoned())

	panicked := rep.finished[depts[5]]
	assert.True(t, panicked.Panicked)
	assert.ErrorIs(t, panicked.Err, ErrScanPanic)
	assert.Contains(t, panicked.Err.Error(), "nil pointer in extraction")

	for _, s := range stubs {
		assert.Equal(t, int32(1), s.closed.Load())
	}
}

// Workers scan in parallel, one session each.
func TestDispatcher_WorkersRunConcurrently(t *testing.T) {
	const n = 3
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	var mu sync.Mutex
	usedSessions := map[Session]types.DepartmentCode{}
	scan := func(ctx context.Context, _ int, s Session, d types.DepartmentCode) error {
		mu.Lock()
		usedSessions[s] = d
		mu.Unlock()
		arrived.Done()
		select {
		case <-release:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("workers did not run concurrently")
		}
	}

	sessions, _ := newSessions(n)
	rep := newRecordingReporter()
	d := NewDispatcher(NewMemoryQueue(departments(n)...), scan, WithLogger(quietLogger()), WithReporter(rep))
	require.NoError(t, d.Run(context.Background(), sessions))

	assert.Len(t, usedSessions, n)
	for _, res := range rep.finished {
		assert.NoError(t, res.Err)
	}
}

type failingQueue struct{ err error }

func (q failingQueue) Pop(context.Context) (types.DepartmentCode, bool, error) { return "", false, q.err }
func (q failingQueue) Len(context.Context) (int, error)                        { return 0, q.err }

func TestDispatcher_QueueErrorEndsWorkers(t *testing.T) {
	qerr := errors.New("redis down")
	sessions, stubs := newSessions(2)
	d := NewDispatcher(failingQueue{err: qerr}, func(context.Context, int, Session, types.DepartmentCode) error {
		t.Error("scan must not be called")
		return nil
	}, WithLogger(quietLogger()))

	err := d.Run(context.Background(), sessions)
	assert.ErrorIs(t, err, qerr)
	for _, s := range stubs {
		assert.Equal(t, int32(1), s.closed.Load())
	}
}

func TestDispatcher_ContextCancelInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once

	scan := func(ctx context.Context, _ int, _ Session, _ types.DepartmentCode) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}

	depts := departments(4)
	q := NewMemoryQueue(depts...)
	rep := newRecordingReporter()
	sessions, stubs := newSessions(1)
	d := NewDispatcher(q, scan, WithLogger(quietLogger()), WithReporter(rep))

	go func() {
		<-started
		cancel()
	}()
	err := d.Run(ctx, sessions)
	assert.ErrorIs(t, err, context.Canceled)

	res := rep.finished[depts[0]]
	assert.True(t, res.Interrupted)
	assert.False(t, res.Abandoned())

	left, _ := q.Len(context.Background())
	assert.Equal(t, 3, left)
	assert.Equal(t, int32(1), stubs[0].closed.Load())
}

func TestLogLock(t *testing.T) {
	var lock LogLock
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Do(func() {
				assert.Equal(t, int32(1), inside.Add(1))
				time.Sleep(100 * time.Microsecond)
				inside.Add(-1)
			})
		}()
	}
	wg.Wait()
}

// lockCheckHandler counts start logs and whether LogLock was held for each.
type lockCheckHandler struct {
	lock *LogLock

	mu     sync.Mutex
	starts map[string]int
	held   int
}

func (h *lockCheckHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *lockCheckHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *lockCheckHandler) WithGroup(string) slog.Handler             { return h }

func (h *lockCheckHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message != "processing department" {
		return nil
	}
	held := !h.lock.mu.TryLock()
	if !held {
		h.lock.mu.Unlock()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "department" {
			h.starts[a.Value.String()]++
		}
		return true
	})
	if held {
		h.held++
	}
	return nil
}

func TestDispatcher_LogsDepartmentStartUnderLogLock(t *testing.T) {
	lock := &LogLock{}
	h := &lockCheckHandler{lock: lock, starts: map[string]int{}}
	depts := departments(6)
	sessions, _ := newSessions(3)
	scan := func(context.Context, int, Session, types.DepartmentCode) error { return nil }

	d := NewDispatcher(NewMemoryQueue(depts...), scan, WithLogger(slog.New(h)), WithLogLock(lock))
	require.NoError(t, d.Run(context.Background(), sessions))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.starts, len(depts))
	for _, dept := range depts {
		assert.Equal(t, 1, h.starts[string(dept)], dept)
	}
	assert.Equal(t, len(depts), h.held)
}

func TestMultiReporter(t *testing.T) {
	a, b := newRecordingReporter(), newRecordingReporter()
	r := MultiReporter(a, b)
	r.DepartmentStarted(0, "KI1I")
	r.DepartmentFinished(Result{Department: "KI1I"})

	for _, rep := range []*recordingReporter{a, b} {
		assert.Equal(t, 1, rep.started["KI1I"])
		assert.Contains(t, rep.finished, types.DepartmentCode("KI1I"))
	}
}

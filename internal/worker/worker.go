// ============================================================================
// Department worker - one session, many departments
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: owns one record session and drains the shared queue with it
//
// How it works:
//   ┌──────────────────────────────────────────┐
//   │  Worker Goroutine                        │
//   │  for {                                   │
//   │    dept, ok := queue.Pop()   (atomic)    │
//   │    if !ok: break                         │
//   │    scan(ctx, session, dept)  (recover)   │
//   │    report Result                         │
//   │  }                                       │
//   │  session.Close()                         │
//   └──────────────────────────────────────────┘
//
// Error Handling:
//   - A failing or panicking scan abandons only that department; the worker
//     logs it under the shared LogLock and pops the next one.
//   - A queue error or ctx cancellation ends the worker.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ScanFunc scans one department with the worker's session.
type ScanFunc func(ctx context.Context, workerID int, session Session, department types.DepartmentCode) error

// LogLock serialises multi-line error reports from concurrent workers so one
// department's report is not interleaved with another's. It guards logging
// only and is unrelated to queue access.
type LogLock struct {
	mu sync.Mutex
}

// Do runs fn while holding the lock.
func (l *LogLock) Do(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Worker represents a work execution unit bound to one session.
type Worker struct {
	id      int
	session Session
	queue   WorkQueue
	scan    ScanFunc
	report  Reporter
	logger  *slog.Logger
	logLock *LogLock
	handled int
}

func newWorker(id int, session Session, queue WorkQueue, scan ScanFunc, report Reporter, logger *slog.Logger, lock *LogLock) *Worker {
	return &Worker{
		id:      id,
		session: session,
		queue:   queue,
		scan:    scan,
		report:  report,
		logger:  logger.With("worker_id", id),
		logLock: lock,
	}
}

// Run drains the queue until it is empty, ctx is done, or the queue fails.
// The session is closed before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	defer w.closeSession()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		dept, ok, err := w.queue.Pop(ctx)
		if err != nil {
			return fmt.Errorf("worker %d: pop department: %w", w.id, err)
		}
		if !ok {
			w.logger.Info("queue drained", "departments", w.handled)
			return nil
		}

		w.logLock.Do(func() {
			w.logger.Info("processing department", "department", string(dept))
		})
		w.report.DepartmentStarted(w.id, dept)
		result := w.execute(ctx, dept)
		w.handled++
		if result.Err != nil && ctx.Err() != nil {
			// stopped mid-department; it stays resumable
			result.Interrupted = true
			w.report.DepartmentFinished(result)
			return ctx.Err()
		}
		if result.Abandoned() {
			w.logAbandoned(result)
		}
		w.report.DepartmentFinished(result)
	}
}

// execute runs the scan and converts a panic into an abandoned Result.
func (w *Worker) execute(ctx context.Context, dept types.DepartmentCode) (result Result) {
	start := time.Now()
	result = Result{WorkerID: w.id, Department: dept}
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("%w: %v\n%s", ErrScanPanic, r, debug.Stack())
			result.Panicked = true
		}
		result.Duration = time.Since(start)
	}()
	result.Err = w.scan(ctx, w.id, w.session, dept)
	return result
}

func (w *Worker) logAbandoned(r Result) {
	w.logLock.Do(func() {
		w.logger.Error("department abandoned",
			"department", string(r.Department),
			"panicked", r.Panicked,
			"duration", r.Duration,
			"error", r.Err,
		)
	})
}

func (w *Worker) closeSession() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.logger.Warn("closing session failed", "error", err)
	}
}

// ============================================================================
// Work Dispatcher - 部門並發掃描器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 每個 session 啟動一個 Worker，共同消費部門佇列
//
// 架構組件:
//   ┌─────────────┐
//   │ WorkQueue   │  KI1I, WA1M, GD1G, ...
//   └─────────────┘
//     ↓ Pop (atomic)
//   ┌──────────────────────────┐
//   │ Dispatcher               │
//   │  ┌──────────────────┐    │
//   │  │Worker 0 (sess 0) │    │
//   │  │Worker 1 (sess 1) │ ──→ Reporter
//   │  │Worker N (sess N) │    │
//   │  └──────────────────┘    │
//   └──────────────────────────┘
//
// 生命週期:
//   1. NewDispatcher() - 設定佇列與 scan 函式
//   2. Run(ctx, sessions) - 每個 session 一個 goroutine，阻塞直到全部結束
//   3. 每個 Worker 結束時關閉自己的 session
//
// 錯誤處理:
//   - 單一部門失敗或 panic 只放棄該部門，不影響其他 Worker
//   - 佇列錯誤只結束該 Worker，其餘 Worker 繼續
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrNoSessions 表示沒有可用的 session
	ErrNoSessions = errors.New("dispatcher: no sessions")
	// ErrScanPanic wraps a panic recovered from a department scan.
	ErrScanPanic = errors.New("department scan panicked")
	// ErrAlreadyRunning 表示 Dispatcher 已在執行
	ErrAlreadyRunning = errors.New("dispatcher already running")
)

// ============================================================================
// Reporter
// ============================================================================

// Reporter receives department lifecycle events. Calls come from several
// workers concurrently.
type Reporter interface {
	DepartmentStarted(workerID int, department types.DepartmentCode)
	DepartmentFinished(result Result)
}

type nopReporter struct{}

func (nopReporter) DepartmentStarted(int, types.DepartmentCode) {}
func (nopReporter) DepartmentFinished(Result)                  {}

type multiReporter []Reporter

// MultiReporter forwards every event to each of reporters in order.
func MultiReporter(reporters ...Reporter) Reporter {
	return multiReporter(reporters)
}

func (m multiReporter) DepartmentStarted(workerID int, department types.DepartmentCode) {
	for _, r := range m {
		r.DepartmentStarted(workerID, department)
	}
}

func (m multiReporter) DepartmentFinished(result Result) {
	for _, r := range m {
		r.DepartmentFinished(result)
	}
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Dispatcher runs one Worker per session over a shared WorkQueue.
type Dispatcher struct {
	queue    WorkQueue
	scan     ScanFunc
	reporter Reporter
	logger   *slog.Logger
	logLock  *LogLock

	mu      sync.Mutex
	running bool
	workers []*Worker
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithReporter sets the lifecycle reporter.
func WithReporter(r Reporter) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.reporter = r
		}
	}
}

// WithLogLock shares a LogLock with other components.
func WithLogLock(l *LogLock) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logLock = l
		}
	}
}

// NewDispatcher 建立新的 Dispatcher
func NewDispatcher(queue WorkQueue, scan ScanFunc, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		scan:     scan,
		reporter: nopReporter{},
		logger:   slog.Default(),
		logLock:  &LogLock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Run starts one worker per session and blocks until every worker has finished.
// Each session is closed by its worker. The returned error joins queue failures
// and ctx cancellation; abandoned departments are not errors.
func (d *Dispatcher) Run(ctx context.Context, sessions []Session) error {
	if len(sessions) == 0 {
		return ErrNoSessions
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.workers = make([]*Worker, 0, len(sessions))
	for i, sess := range sessions {
		d.workers = append(d.workers, newWorker(i, sess, d.queue, d.scan, d.reporter, d.logger, d.logLock))
	}
	workers := d.workers
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	pending, err := d.queue.Len(ctx)
	if err != nil {
		d.logger.Warn("queue length unavailable", "error", err)
	}
	d.logger.Info("dispatcher started", "workers", len(workers), "departments", pending)

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	d.logger.Info("dispatcher finished", "workers", len(workers))
	return errors.Join(errs...)
}

// WorkerCount 返回最近一次 Run 的 Worker 數量
func (d *Dispatcher) WorkerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// IsRunning 檢查 Dispatcher 是否執行中
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

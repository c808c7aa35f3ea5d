// ============================================================================
// KW Sourcing 控制器 - 執行協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 協調一次完整的掃描執行
//
// 架構設計:
//   - WorkQueue: 部門佇列（記憶體或 Redis）
//   - Dispatcher: 每個 session 一個 Worker
//   - Scanner: 每個部門一個，結果寫入 sink
//   - Tracker: 部門狀態與游標
//   - Snapshot: 定期寫入 ProgressSnapshot
//   - Metrics: Prometheus 指標（可選）
//
// 執行流程 (Run):
//   1. 登記部門，必要時填入佇列
//   2. errgroup 同時執行 Dispatcher 與 Snapshot Loop
//   3. Dispatcher 結束後停止 Snapshot Loop
//   4. 寫入最後一次快照
//
// 取消:
//   ctx 取消時 Worker 在兩個識別碼之間停止，已寫入 sink 的紀錄保持不變。
//   中斷的部門在快照中維持 in_flight，並保留 cursor。
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/kw-sourcing/internal/metrics"
	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/internal/sink"
	"github.com/ChuLiYu/kw-sourcing/internal/snapshot"
	"github.com/ChuLiYu/kw-sourcing/internal/tracker"
	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// DefaultSnapshotInterval 預設快照間隔
const DefaultSnapshotInterval = 30 * time.Second

// ErrNoDepartments 沒有可掃描的部門
var ErrNoDepartments = errors.New("controller: no departments to scan")

// ============================================================================
// 資料結構定義
// ============================================================================

// Queue is a WorkQueue the controller can seed.
type Queue interface {
	worker.WorkQueue
	Push(ctx context.Context, codes ...types.DepartmentCode) error
}

// Config Controller 配置
type Config struct {
	Departments      []types.DepartmentCode // 本次執行的部門
	SeedQueue        bool                   // 是否將 Departments 推入佇列
	ScanOptions      []scanner.Option       // 每個部門 Scanner 的選項
	SnapshotInterval time.Duration          // 快照間隔
	KeepSnapshots    int                    // 保留的快照備份數，0 表示不備份
}

// Controller 核心控制器
type Controller struct {
	config   Config
	queue    Queue
	sink     sink.Appender
	tracker  *tracker.Tracker
	snapshot *snapshot.Manager
	metrics  *metrics.Collector
	logger   *slog.Logger
	logLock  *worker.LogLock
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSnapshots enables periodic progress snapshots.
func WithSnapshots(m *snapshot.Manager) Option {
	return func(c *Controller) { c.snapshot = m }
}

// WithMetrics reports to a Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracker shares a tracker, e.g. with the HTTP progress endpoint.
func WithTracker(t *tracker.Tracker) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracker = t
		}
	}
}

// NewController 建立新的 Controller 實例
func NewController(config Config, queue Queue, out sink.Appender, opts ...Option) *Controller {
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = DefaultSnapshotInterval
	}
	c := &Controller{
		config:  config,
		queue:   queue,
		sink:    out,
		logger:  slog.Default(),
		logLock: &worker.LogLock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracker == nil {
		c.tracker = tracker.New("")
	}
	return c
}

// Tracker returns the progress tracker of this controller.
func (c *Controller) Tracker() *tracker.Tracker { return c.tracker }

// ============================================================================
// 核心方法實作
// ============================================================================

// Run scans every queued department with the given sessions and blocks until
// the queue is drained or ctx is cancelled. Sessions are closed on return.
func (c *Controller) Run(ctx context.Context, sessions []worker.Session) error {
	start := time.Now()
	if err := c.prepare(ctx); err != nil {
		closeAll(sessions)
		return err
	}

	dispatcher := worker.NewDispatcher(c.queue, c.scan,
		worker.WithLogger(c.logger),
		worker.WithLogLock(c.logLock),
		worker.WithReporter(worker.MultiReporter(c.tracker, c.metrics)),
	)

	done := make(chan struct{})
	var runErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		runErr = dispatcher.Run(ctx, sessions)
		return nil
	})
	g.Go(func() error {
		c.snapshotLoop(gctx, done)
		return nil
	})
	_ = g.Wait()

	c.takeSnapshot()
	counts := c.tracker.StatusCounts()
	c.logger.Info("run finished",
		"duration", time.Since(start),
		"completed", counts[types.StatusCompleted],
		"abandoned", counts[types.StatusAbandoned],
		"in_flight", counts[types.StatusInFlight],
		"pending", counts[types.StatusPending])
	return runErr
}

func (c *Controller) prepare(ctx context.Context) error {
	if c.config.SeedQueue && len(c.config.Departments) == 0 {
		return ErrNoDepartments
	}
	// 先驗證並登記，確保佇列只在成功後才被填入
	if err := c.tracker.Register(c.config.Departments...); err != nil {
		return fmt.Errorf("register departments: %w", err)
	}
	if c.config.SeedQueue {
		if err := c.queue.Push(ctx, c.config.Departments...); err != nil {
			return fmt.Errorf("seed queue: %w", err)
		}
	}
	pending, err := c.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("queue length: %w", err)
	}
	c.metrics.SetQueuePending(pending)
	c.logger.Info("run prepared", "departments", len(c.config.Departments), "queued", pending)
	return nil
}

// scan is the worker.ScanFunc: one Scanner per department.
func (c *Controller) scan(ctx context.Context, workerID int, session worker.Session, dept types.DepartmentCode) error {
	opts := append([]scanner.Option{
		scanner.WithLogger(c.logger.With("worker", workerID)),
		scanner.WithObserver(c.tracker),
		scanner.WithObserver(c.metrics),
	}, c.config.ScanOptions...)

	sc, err := scanner.New(session, dept, c.sink, opts...)
	if err != nil {
		return err
	}
	return sc.Run(ctx)
}

// snapshotLoop 定期寫入快照，直到 done 關閉
func (c *Controller) snapshotLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.takeSnapshot()
			if n, err := c.queue.Len(ctx); err == nil {
				c.metrics.SetQueuePending(n)
			}
		}
	}
}

// takeSnapshot 寫入目前進度
func (c *Controller) takeSnapshot() {
	if c.snapshot == nil {
		return
	}
	snap := c.tracker.Snapshot()
	var err error
	if c.config.KeepSnapshots > 0 {
		err = c.snapshot.WriteWithBackup(snap, c.config.KeepSnapshots)
	} else {
		err = c.snapshot.Write(snap)
	}
	c.metrics.RecordSnapshot(err)
	if err != nil {
		c.logger.Error("snapshot write failed", "path", c.snapshot.GetPath(), "error", err)
		return
	}
	c.logger.Debug("snapshot taken", "departments", len(snap.Departments))
}

func closeAll(sessions []worker.Session) {
	for _, s := range sessions {
		_ = s.Close()
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/kw-sourcing/internal/controller"
	"github.com/ChuLiYu/kw-sourcing/internal/metrics"
	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/internal/server"
	"github.com/ChuLiYu/kw-sourcing/internal/sink"
	"github.com/ChuLiYu/kw-sourcing/internal/snapshot"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/kafka"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/postgres"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/redis"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/wal"
	"github.com/ChuLiYu/kw-sourcing/internal/tracker"
	"github.com/ChuLiYu/kw-sourcing/internal/webdriver"
	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// departmentLister is implemented by sessions that can read the department list.
type departmentLister interface {
	Departments(ctx context.Context) []types.DepartmentCode
}

// openSessions opens cfg.Source.Sessions record sessions.
var openSessions = func(ctx context.Context, cfg *Config, logger *slog.Logger) ([]worker.Session, error) {
	out := make([]worker.Session, 0, cfg.Source.Sessions)
	for i := 0; i < cfg.Source.Sessions; i++ {
		s, err := webdriver.Open(ctx, cfg.WebDriver(logger.With("session_index", i)))
		if err != nil {
			for _, opened := range out {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open session %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

// openSink builds the journal as primary sink with optional Postgres and Kafka mirrors.
func openSink(ctx context.Context, cfg *Config, logger *slog.Logger, cl *closers) (sink.ResultSink, error) {
	journal, err := wal.Open(cfg.Sink.JournalPath, wal.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	cl.add(journal.Close)

	var mirrors []sink.Appender
	if cfg.Sink.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.Sink.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		cl.add(store.Close)
		mirrors = append(mirrors, store)
	}
	if len(cfg.Sink.KafkaBrokers) > 0 {
		mirror, err := kafka.New(cfg.Sink.KafkaBrokers, cfg.Sink.KafkaTopic,
			kafka.WithLogger(logger), kafka.WithProduceTimeout(cfg.Sink.MirrorTimeout))
		if err != nil {
			return nil, fmt.Errorf("open kafka: %w", err)
		}
		cl.add(mirror.Close)
		if err := mirror.EnsureTopic(ctx, 1, 1); err != nil {
			logger.Warn("kafka topic not ensured", "error", err)
		}
		mirrors = append(mirrors, mirror)
	}
	fan := sink.NewFanout(journal, logger, mirrors...)
	if cfg.Sink.MirrorTimeout > 0 {
		fan.MirrorTimeout = cfg.Sink.MirrorTimeout
	}
	return fan, nil
}

// openQueue returns the Redis queue when configured, else an in-process queue.
func openQueue(ctx context.Context, cfg *Config, cl *closers) (controller.Queue, error) {
	if cfg.Queue.RedisURL == "" {
		return worker.NewMemoryQueue(), nil
	}
	q, err := redis.Open(ctx, cfg.Queue.RedisURL, cfg.Queue.Key)
	if err != nil {
		return nil, err
	}
	cl.add(q.Close)
	if cfg.Queue.Seed {
		// clear leftovers of an earlier run before the controller pushes
		if err := q.Seed(ctx); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func scanOptions(cfg *Config) []scanner.Option {
	return []scanner.Option{
		scanner.WithErrorSleep(cfg.Scan.ErrorSleep),
		scanner.WithStableTimeout(cfg.Scan.StableTimeout),
		scanner.WithSettle(cfg.Scan.Settle),
		scanner.WithRange(cfg.Scan.StartSequence, cfg.Scan.EndSequence),
	}
}

// runSourcing performs one complete run: open stores and sessions, scan every
// department, and serve progress while doing so.
func runSourcing(ctx context.Context, cfg *Config, runID string, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var cl closers
	defer cl.close(logger)

	out, err := openSink(ctx, cfg, logger, &cl)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	sessions, err := openSessions(ctx, cfg, logger)
	if err != nil {
		return err
	}

	departments, _ := cfg.Departments()
	if len(departments) == 0 && cfg.Queue.Seed {
		if lister, ok := sessions[0].(departmentLister); ok {
			departments = lister.Departments(ctx)
		}
		logger.Info("departments read from source", "count", len(departments))
	}

	tr := tracker.New(runID)
	opts := []controller.Option{
		controller.WithLogger(logger),
		controller.WithTracker(tr),
		controller.WithSnapshots(snapshot.NewManager(cfg.Snapshot.Path)),
	}
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(prometheus.NewRegistry())
		opts = append(opts, controller.WithMetrics(collector))
	}

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	srv := startServers(serveCtx, cfg, tr, collector, logger)

	ctrl := controller.NewController(controller.Config{
		Departments:      departments,
		SeedQueue:        cfg.Queue.Seed,
		ScanOptions:      scanOptions(cfg),
		SnapshotInterval: cfg.Snapshot.Interval,
		KeepSnapshots:    cfg.Snapshot.Keep,
	}, queue, out, opts...)

	start := time.Now()
	err = ctrl.Run(ctx, sessions)
	srv.MarkDone()
	if errors.Is(err, context.Canceled) {
		logger.Info("run interrupted", "duration", time.Since(start))
		return nil
	}
	return err
}

// startServers starts the HTTP and gRPC endpoints that are enabled in cfg.
func startServers(ctx context.Context, cfg *Config, tr *tracker.Tracker, collector *metrics.Collector, logger *slog.Logger) *server.Server {
	var metricsHandler http.Handler
	if collector != nil {
		metricsHandler = collector.Handler()
	}
	srv := server.New(tr, metricsHandler, logger)

	if cfg.Metrics.Enabled {
		go func() {
			if err := srv.ServeHTTP(ctx, fmt.Sprintf(":%d", cfg.Metrics.Port)); err != nil {
				logger.Error("http server stopped", "error", err)
			}
		}()
	}
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			logger.Error("grpc listen failed", "port", cfg.GRPC.Port, "error", err)
			return srv
		}
		go func() {
			if err := srv.ServeGRPC(ctx, lis); err != nil {
				logger.Error("grpc server stopped", "error", err)
			}
		}()
	}
	return srv
}

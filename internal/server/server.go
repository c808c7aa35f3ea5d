// ============================================================================
// Server - 進度查詢與健康檢查
// ============================================================================
//
// Package: internal/server
// 文件: server.go
// 功能: 以 HTTP (chi) 暴露 /healthz, /progress, /metrics，並提供 gRPC health 服務
//
// 端點:
//   GET /healthz                 存活檢查
//   GET /progress                本次執行的 ProgressSnapshot
//   GET /progress/{department}   單一部門進度
//   GET /metrics                 Prometheus 指標
//
// gRPC:
//   grpc.health.v1.Health
//     ""                 永遠 SERVING
//     CrawlService       掃描中 SERVING，結束後 NOT_SERVING
//
// ============================================================================

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// CrawlService is the gRPC health service name reporting the crawl itself.
const CrawlService = "kwsource.Crawl"

// ProgressSource provides the current run progress.
type ProgressSource interface {
	Snapshot() types.ProgressSnapshot
}

// Server serves progress and health over HTTP and gRPC.
type Server struct {
	progress ProgressSource
	metrics  http.Handler
	logger   *slog.Logger
	health   *health.Server
}

// New creates a Server. metrics may be nil, in which case /metrics is not mounted.
func New(progress ProgressSource, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := health.NewServer()
	h.SetServingStatus(CrawlService, healthpb.HealthCheckResponse_SERVING)
	return &Server{
		progress: progress,
		metrics:  metrics,
		logger:   logger,
		health:   h,
	}
}

// MarkDone reports the crawl as finished on the gRPC health service.
func (s *Server) MarkDone() {
	s.health.SetServingStatus(CrawlService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// ============================================================================
// HTTP
// ============================================================================

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/progress", s.handleProgress)
	r.Get("/progress/{department}", s.handleDepartment)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.progress.Snapshot())
}

func (s *Server) handleDepartment(w http.ResponseWriter, r *http.Request) {
	code := types.DepartmentCode(chi.URLParam(r, "department"))
	if err := code.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p, ok := s.progress.Snapshot().Departments[code]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "department not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ServeHTTP listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// ============================================================================
// gRPC
// ============================================================================

// ServeGRPC serves the health service on lis until ctx is done.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("grpc health server listening", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc server: %w", err)
	case <-ctx.Done():
		s.health.Shutdown()
		srv.GracefulStop()
		return nil
	}
}

// ============================================================================
// KW Sourcing Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集掃描過程的指標，透過 /metrics 暴露給 Prometheus
//
// 指標分類:
//
//   1. 計數器 (Counter):
//      - kw_identifiers_total{outcome}: 依結果分類的識別碼數量
//      - kw_departments_started_total: 開始掃描的部門數
//      - kw_departments_finished_total{result}: completed / abandoned / interrupted
//      - kw_snapshot_writes_total{result}: ok / error
//
//   2. 分佈 (Histogram):
//      - kw_lookup_duration_seconds: 單一識別碼查詢耗時
//
//   3. 瞬時值 (Gauge):
//      - kw_departments_in_flight: 掃描中的部門數
//      - kw_queue_pending: 佇列中等待的部門數
//
// Prometheus 查詢示例:
//
//   # 每分鐘查詢數
//   rate(kw_identifiers_total[1m])
//
//   # 來源錯誤率
//   rate(kw_identifiers_total{outcome="session_failure"}[5m]) / rate(kw_identifiers_total[5m])
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Collector Prometheus 指標收集器
// A nil *Collector is valid and records nothing.
type Collector struct {
	identifiers        *prometheus.CounterVec
	lookupDuration     prometheus.Histogram
	departmentsStarted prometheus.Counter
	departmentsDone    *prometheus.CounterVec
	inFlight           prometheus.Gauge
	queuePending       prometheus.Gauge
	snapshotWrites     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var (
	_ scanner.Observer = (*Collector)(nil)
	_ worker.Reporter  = (*Collector)(nil)
)

// NewCollector 創建指標收集器並註冊到 reg
// reg 為 nil 時使用 prometheus.DefaultRegisterer。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		identifiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kw_identifiers_total",
			Help: "Identifiers classified, by outcome",
		}, []string{"outcome"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kw_lookup_duration_seconds",
			Help:    "Time to classify one identifier",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 300},
		}),
		departmentsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kw_departments_started_total",
			Help: "Departments picked up by a worker",
		}),
		departmentsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kw_departments_finished_total",
			Help: "Departments finished, by result",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kw_departments_in_flight",
			Help: "Departments currently being scanned",
		}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kw_queue_pending",
			Help: "Departments waiting in the work queue",
		}),
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kw_snapshot_writes_total",
			Help: "Progress snapshot writes, by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.identifiers,
		c.lookupDuration,
		c.departmentsStarted,
		c.departmentsDone,
		c.inFlight,
		c.queuePending,
		c.snapshotWrites,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// ObserveOutcome 記錄一個識別碼的分類結果
func (c *Collector) ObserveOutcome(o types.Outcome, _ int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.identifiers.WithLabelValues(string(o.Kind)).Inc()
	c.lookupDuration.Observe(elapsed.Seconds())
}

// DepartmentStarted 記錄部門開始掃描
func (c *Collector) DepartmentStarted(int, types.DepartmentCode) {
	if c == nil {
		return
	}
	c.departmentsStarted.Inc()
	c.inFlight.Inc()
}

// DepartmentFinished 記錄部門結束
func (c *Collector) DepartmentFinished(r worker.Result) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.departmentsDone.WithLabelValues(finishLabel(r)).Inc()
}

func finishLabel(r worker.Result) string {
	switch {
	case r.Interrupted:
		return "interrupted"
	case r.Abandoned():
		return "abandoned"
	}
	return "completed"
}

// SetQueuePending 更新佇列長度
func (c *Collector) SetQueuePending(n int) {
	if c == nil {
		return
	}
	c.queuePending.Set(float64(n))
}

// RecordSnapshot 記錄快照寫入結果
func (c *Collector) RecordSnapshot(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.snapshotWrites.WithLabelValues(result).Inc()
}

// Handler 返回 /metrics 的 HTTP handler
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/horario-api/internal/scheduler"
)

// Generation outcomes used as metric labels and log fields.
const (
	OutcomeSolved     = "solved"
	OutcomePartial    = "partial"
	OutcomeInfeasible = "infeasible"
	OutcomeDryRun     = "dry_run"
	OutcomeIntegrity  = "integrity"
	OutcomeBusy       = "busy"
	OutcomeCancelled  = "cancelled"
	OutcomeFailed     = "failed"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	backtracks      prometheus.Histogram
	conflictsTotal  *prometheus.CounterVec
	sessionsPlaced  prometheus.Counter
	runsInFlight    prometheus.Gauge
	mirrorLookups   *prometheus.CounterVec

	requestCount uint64
	runCount     uint64
	failedCount  uint64
	inFlight     int64
}

// MetricsSnapshot is a compact view of process counters for the health endpoint.
type MetricsSnapshot struct {
	RequestsTotal  uint64    `json:"requests_total"`
	RunsTotal      uint64    `json:"generation_runs_total"`
	RunsFailed     uint64    `json:"generation_runs_failed"`
	RunsInFlight   int64     `json:"generation_runs_in_flight"`
	Goroutines     int       `json:"goroutines"`
	GeneratedAtUTC time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_generation_runs_total",
		Help: "Generation runs by outcome",
	}, []string{"outcome"})

	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schedule_generation_duration_seconds",
		Help:    "Wall-clock duration of the search phase",
		Buckets: []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	backtracks := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_generation_backtracks",
		Help:    "Backtracks spent per run",
		Buckets: prometheus.ExponentialBuckets(1, 4, 9),
	})

	conflictsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_generation_conflicts_total",
		Help: "Conflict records reported by reason",
	}, []string{"reason"})

	sessionsPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedule_generation_sessions_placed_total",
		Help: "Sessions placed by completed runs",
	})

	runsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedule_generation_runs_in_flight",
		Help: "Runs currently searching",
	})

	mirrorLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_run_mirror_lookups_total",
		Help: "Run state lookups served by the shared cache",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, runsTotal, runDuration, backtracks, conflictsTotal, sessionsPlaced, runsInFlight, mirrorLookups, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		runsTotal:       runsTotal,
		runDuration:     runDuration,
		backtracks:      backtracks,
		conflictsTotal:  conflictsTotal,
		sessionsPlaced:  sessionsPlaced,
		runsInFlight:    runsInFlight,
		mirrorLookups:   mirrorLookups,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// RegisterQueueDepth exposes the backlog of the async run queue.
func (m *MetricsService) RegisterQueueDepth(depth func() int) {
	if m == nil || depth == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "generation_queue_pending",
		Help: "Async generation runs waiting for a worker",
	}, func() float64 { return float64(depth()) }))
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RunStarted marks a search in progress. The returned func must be called once it ends.
func (m *MetricsService) RunStarted() func() {
	if m == nil {
		return func() {}
	}
	m.runsInFlight.Inc()
	atomic.AddInt64(&m.inFlight, 1)
	return func() {
		m.runsInFlight.Dec()
		atomic.AddInt64(&m.inFlight, -1)
	}
}

// ObserveGeneration records the outcome of one run.
func (m *MetricsService) ObserveGeneration(outcome string, stats scheduler.Stats, placed int, conflicts []scheduler.ConflictRecord) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	atomic.AddUint64(&m.runCount, 1)
	if outcome == OutcomeFailed {
		atomic.AddUint64(&m.failedCount, 1)
	}
	if stats.Duration > 0 {
		m.runDuration.WithLabelValues(outcome).Observe(stats.Duration.Seconds())
		m.backtracks.Observe(float64(stats.Backtracks))
	}
	if placed > 0 {
		m.sessionsPlaced.Add(float64(placed))
	}
	for _, c := range conflicts {
		m.conflictsTotal.WithLabelValues(string(c.Reason)).Inc()
	}
}

// RecordMirrorLookup counts run lookups answered (or not) by the shared cache.
func (m *MetricsService) RecordMirrorLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.mirrorLookups.WithLabelValues("hit").Inc()
		return
	}
	m.mirrorLookups.WithLabelValues("miss").Inc()
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		RequestsTotal:  atomic.LoadUint64(&m.requestCount),
		RunsTotal:      atomic.LoadUint64(&m.runCount),
		RunsFailed:     atomic.LoadUint64(&m.failedCount),
		RunsInFlight:   atomic.LoadInt64(&m.inFlight),
		Goroutines:     runtime.NumGoroutine(),
		GeneratedAtUTC: time.Now().UTC(),
	}
}

// Package observability exposes Prometheus metrics for the connection
// pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime              prometheus.Gauge
	initRuns            *prometheus.CounterVec
	platformsRequested  prometheus.Counter
	platformsConnected  prometheus.Gauge
	platformsQuarantine *prometheus.CounterVec
	tokenRefreshes      *prometheus.CounterVec
	probeDuration       *prometheus.HistogramVec
	validationResults   *prometheus.CounterVec
	storageOps          *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connector_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.initRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_init_runs_total",
			Help: "Total orchestrator initialization runs by outcome",
		},
		[]string{"outcome"},
	)

	mm.platformsRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connector_platforms_requested_total",
		Help: "Total platforms requested across initialization runs",
	})

	mm.platformsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connector_platforms_connected",
		Help: "Platforms connected by the most recent initialization run",
	})

	mm.platformsQuarantine = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_platforms_quarantined_total",
			Help: "Platforms removed from a run, by pipeline stage",
		},
		[]string{"stage"},
	)

	mm.tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_token_refreshes_total",
			Help: "Token refresh attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	mm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_validation_probe_duration_seconds",
			Help:    "Validation probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	mm.validationResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_validation_results_total",
			Help: "Validation results by platform and status",
		},
		[]string{"platform", "status"},
	)

	mm.storageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_storage_operations_total",
			Help: "Storage operations by type and status",
		},
		[]string{"operation", "status"},
	)
}

// registerMetrics registers all metrics with the registry
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.initRuns,
		mm.platformsRequested,
		mm.platformsConnected,
		mm.platformsQuarantine,
		mm.tokenRefreshes,
		mm.probeDuration,
		mm.validationResults,
		mm.storageOps,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime updates the uptime gauge
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordInitRun records one orchestrator run outcome ("ok"/"failed")
func (mm *MetricsManager) RecordInitRun(outcome string, requested, connected int) {
	mm.initRuns.WithLabelValues(outcome).Inc()
	mm.platformsRequested.Add(float64(requested))
	mm.platformsConnected.Set(float64(connected))
}

// RecordQuarantine records one platform removal at a pipeline stage
func (mm *MetricsManager) RecordQuarantine(stage string) {
	mm.platformsQuarantine.WithLabelValues(stage).Inc()
}

// RecordTokenRefresh records one refresh attempt outcome
func (mm *MetricsManager) RecordTokenRefresh(provider, outcome string) {
	mm.tokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

// RecordValidation records one validation result and its probe latency
func (mm *MetricsManager) RecordValidation(platform, status string, duration time.Duration) {
	mm.validationResults.WithLabelValues(platform, status).Inc()
	mm.probeDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordStorageOperation records a storage operation
func (mm *MetricsManager) RecordStorageOperation(operation, status string) {
	mm.storageOps.WithLabelValues(operation, status).Inc()
}

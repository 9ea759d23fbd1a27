// Package telemetry exposes Prometheus metrics for backtest runs, the
// result cache and market data providers.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketintel/internal/domain"
)

// Run outcome labels.
const (
	StatusOK                  = "ok"
	StatusInvalid             = "invalid"
	StatusInsufficientHistory = "insufficient_history"
	StatusDataIntegrity       = "data_integrity"
	StatusFitError            = "fit_error"
	StatusTimeout             = "timeout"
	StatusCancelled           = "cancelled"
	StatusError               = "error"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	ActiveRuns       prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	ProviderRequests *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketintel_backtest_runs_total",
				Help: "Backtest runs by model type and outcome",
			},
			[]string{"model", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketintel_backtest_duration_seconds",
				Help:    "Wall-clock duration of backtest runs",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model"},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketintel_backtest_active_runs",
				Help: "Backtest runs currently executing",
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketintel_cache_hits_total",
				Help: "Backtest results served from the cache",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketintel_cache_misses_total",
				Help: "Backtest cache lookups without a stored result",
			},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketintel_provider_requests_total",
				Help: "Market data provider requests by provider and result",
			},
			[]string{"provider", "result"},
		),
	}
	reg.MustRegister(m.RunsTotal, m.RunDuration, m.ActiveRuns, m.CacheHits, m.CacheMisses, m.ProviderRequests)
	return m
}

// RunStarted increments the active-run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records the outcome of a run started with RunStarted.
func (m *Metrics) RunFinished(model domain.ModelType, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(string(model), StatusOf(err)).Inc()
	m.RunDuration.WithLabelValues(string(model)).Observe(elapsed.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// ProviderRequest records one provider call; its signature matches
// marketdata.ResilientConfig.OnRequest.
func (m *Metrics) ProviderRequest(provider string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
}

// StatusOf maps a run error to its outcome label.
func StatusOf(err error) string {
	var (
		validation *domain.ValidationError
		history    *domain.InsufficientHistoryError
		integrity  *domain.DataIntegrityError
		fit        *domain.FitError
	)
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &validation):
		return StatusInvalid
	case errors.As(err, &history):
		return StatusInsufficientHistory
	case errors.As(err, &integrity):
		return StatusDataIntegrity
	case errors.As(err, &fit):
		return StatusFitError
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusError
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

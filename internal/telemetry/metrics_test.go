package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"marketintel/internal/domain"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, StatusOK},
		{&domain.ValidationError{Field: "symbols"}, StatusInvalid},
		{&domain.InsufficientHistoryError{}, StatusInsufficientHistory},
		{fmt.Errorf("run: %w", &domain.DataIntegrityError{Symbol: "SPY"}), StatusDataIntegrity},
		{&domain.FitError{Err: errors.New("singular")}, StatusFitError},
		{context.DeadlineExceeded, StatusTimeout},
		{fmt.Errorf("prefetch: %w", context.Canceled), StatusCancelled},
		{errors.New("boom"), StatusError},
	}
	for _, tc := range tests {
		if got := StatusOf(tc.err); got != tc.want {
			t.Errorf("StatusOf(%v): got %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestRunMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunStarted()
	m.RunStarted()
	if got := testutil.ToFloat64(m.ActiveRuns); got != 2 {
		t.Errorf("active runs: got %v, want 2", got)
	}
	m.RunFinished(domain.ModelLinear, nil, time.Second)
	m.RunFinished(domain.ModelLinear, &domain.FitError{}, time.Second)

	if got := testutil.ToFloat64(m.ActiveRuns); got != 0 {
		t.Errorf("active runs: got %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("linear", StatusOK)); got != 1 {
		t.Errorf("ok runs: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("linear", StatusFitError)); got != 1 {
		t.Errorf("failed runs: got %v, want 1", got)
	}

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	if got := testutil.ToFloat64(m.CacheMisses); got != 2 {
		t.Errorf("cache misses: got %v, want 2", got)
	}

	m.ProviderRequest("alpaca", nil)
	m.ProviderRequest("alpaca", errors.New("429"))
	if got := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("alpaca", "error")); got != 1 {
		t.Errorf("provider errors: got %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "marketintel_backtest_runs_total") {
		t.Error("metrics output missing runs counter")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RunStarted()
	m.RunFinished(domain.ModelLinear, nil, time.Second)
	m.CacheLookup(true)
	m.ProviderRequest("alpaca", nil)
}

package perf

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBasicSeries(t *testing.T) {
	initial := 100.0
	values := []float64{101, 98.98, 101.9494, 101.9494}
	returns := Returns(initial, values)

	require.Len(t, returns, 4)
	assert.InDelta(t, 0.01, returns[0], 1e-12)
	assert.InDelta(t, -0.02, returns[1], 1e-12)
	assert.InDelta(t, 0.03, returns[2], 1e-12)
	assert.InDelta(t, 0.0, returns[3], 1e-12)

	m := Compute(initial, values, returns, nil, Options{})

	assert.Equal(t, 4, m.Days)
	assert.InDelta(t, 0.019494, m.TotalReturn, 1e-9)
	assert.InDelta(t, math.Pow(1.019494, 252.0/4)-1, m.AnnualReturn, 1e-6)
	assert.InDelta(t, -0.02, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-12)
	assert.InDelta(t, 2.0, float64(m.ProfitFactor), 1e-9)

	mean := (returns[0] + returns[1] + returns[2] + returns[3]) / 4
	assert.InDelta(t, mean*252/(0.02*math.Sqrt(252)), m.SortinoRatio, 1e-9)
	assert.InDelta(t, mean*252/m.Volatility, m.SharpeRatio, 1e-9)
	assert.InDelta(t, m.AnnualReturn/0.02, m.CalmarRatio, 1e-9)

	// No benchmark supplied.
	assert.Zero(t, m.Alpha)
	assert.Zero(t, m.Beta)
	assert.Zero(t, m.InformationRatio)
}

func TestComputeFlatSeries(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 100
	}
	returns := Returns(100, values)

	m := Compute(100, values, returns, returns, Options{})

	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.AnnualReturn)
	assert.Zero(t, m.Volatility)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.SortinoRatio)
	assert.Zero(t, m.CalmarRatio)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, float64(m.ProfitFactor))
	assert.Zero(t, m.Beta)
	assert.Zero(t, m.InformationRatio)
}

func TestAllPositiveReturnsUseSentinels(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.005}

	sortino := Sortino(returns, 0)
	assert.False(t, math.IsNaN(sortino))
	assert.Zero(t, sortino)

	pf := ProfitFactor(returns)
	assert.True(t, pf.IsInf())
	assert.Equal(t, "inf", pf.String())

	assert.Equal(t, 1.0, WinRate(returns))
}

func TestAnnualReturn(t *testing.T) {
	assert.InDelta(t, 0.21, AnnualReturn(0.1, 126), 1e-12)
	assert.Zero(t, AnnualReturn(0.5, 0))
	assert.Zero(t, AnnualReturn(-1.5, 10))
	assert.Equal(t, -1.0, AnnualReturn(-1, 10))
}

func TestComputeTotalLoss(t *testing.T) {
	values := []float64{50, 0}
	m := Compute(100, values, Returns(100, values), nil, Options{})

	assert.InDelta(t, -1.0, m.TotalReturn, 1e-12)
	assert.Equal(t, -1.0, m.AnnualReturn)
	assert.InDelta(t, -1.0, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, -1.0, m.CalmarRatio, 1e-12)
}

func TestMaxDrawdownSeededWithInitial(t *testing.T) {
	// Entry costs on day one count against the starting capital.
	assert.InDelta(t, -0.001, MaxDrawdown(100, []float64{99.9, 100.5, 101}), 1e-12)
	assert.Zero(t, MaxDrawdown(100, []float64{100, 101}))
}

func TestDownsideDeviationOverNegativeReturns(t *testing.T) {
	// Only the two losses enter the mean: sqrt((0.0004 + 0.0016) / 2).
	returns := []float64{0.03, -0.02, 0.01, -0.04, 0}
	assert.InDelta(t, math.Sqrt(0.001), DownsideDeviation(returns), 1e-12)
	assert.Zero(t, DownsideDeviation([]float64{0.01, 0, 0.02}))
}

func TestRiskFreeRateLowersSharpe(t *testing.T) {
	returns := []float64{0.01, -0.004, 0.006, 0.002, -0.001}
	base := Sharpe(returns, 0)
	withRF := Sharpe(returns, 0.02)
	assert.Less(t, withRF, base)
}

func TestAlphaBeta(t *testing.T) {
	bench := []float64{0.01, -0.005, 0.02, -0.01, 0.003}
	returns := make([]float64, len(bench))
	for i, b := range bench {
		returns[i] = 2*b + 0.001
	}

	alpha, beta := AlphaBeta(returns, bench)
	assert.InDelta(t, 2.0, beta, 1e-9)
	assert.InDelta(t, 0.001*252, alpha, 1e-9)
}

func TestAlphaBetaFlatBenchmark(t *testing.T) {
	bench := []float64{0, 0, 0, 0}
	returns := []float64{0.01, 0.02, -0.01, 0.0}

	alpha, beta := AlphaBeta(returns, bench)
	assert.Zero(t, beta)
	assert.InDelta(t, 0.005*252, alpha, 1e-12)
}

func TestInformationRatio(t *testing.T) {
	returns := []float64{0.02, 0.0, 0.01}
	bench := []float64{0.01, 0.01, 0.0}

	active := []float64{0.01, -0.01, 0.01}
	mean := (active[0] + active[1] + active[2]) / 3
	var ss float64
	for _, a := range active {
		ss += (a - mean) * (a - mean)
	}
	sd := math.Sqrt(ss / 2)
	want := mean * 252 / (sd * math.Sqrt(252))

	assert.InDelta(t, want, InformationRatio(returns, bench), 1e-9)
}

func TestInformationRatioZeroTrackingError(t *testing.T) {
	bench := []float64{0.01, -0.02, 0.005}
	assert.Zero(t, InformationRatio(bench, bench))
}

func TestComputeIgnoresMismatchedBenchmark(t *testing.T) {
	values := []float64{101, 102}
	returns := Returns(100, values)
	m := Compute(100, values, returns, []float64{0.01}, Options{})
	assert.Zero(t, m.Beta)
	assert.Zero(t, m.Alpha)
}

func TestMetricsSanityOnRandomSeries(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		value := 1000.0
		values := make([]float64, 120)
		for i := range values {
			value *= 1 + rng.NormFloat64()*0.02
			values[i] = value
		}
		returns := Returns(1000, values)
		m := Compute(1000, values, returns, nil, Options{})

		assert.LessOrEqual(t, m.MaxDrawdown, 0.0)
		assert.GreaterOrEqual(t, m.WinRate, 0.0)
		assert.LessOrEqual(t, m.WinRate, 1.0)
		assert.False(t, math.IsNaN(m.SortinoRatio))
		assert.False(t, math.IsNaN(m.SharpeRatio))
	}
}

func TestRatioJSON(t *testing.T) {
	m := Metrics{ProfitFactor: Ratio(math.Inf(1)), WinRate: 1}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":"inf"`)

	var decoded Metrics
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.ProfitFactor.IsInf())

	var finite Ratio
	require.NoError(t, json.Unmarshal([]byte("1.5"), &finite))
	assert.Equal(t, Ratio(1.5), finite)

	var bad Ratio
	assert.Error(t, json.Unmarshal([]byte(`"huge"`), &bad))
}

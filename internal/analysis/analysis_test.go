package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain"
	"marketintel/internal/marketdata"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// series builds one bar per calendar day from closes.
func series(symbol string, closes ...float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{
			Symbol: symbol, Timestamp: day0.AddDate(0, 0, i),
			Open: c, High: c, Low: c, Close: c, Volume: 1000,
		}
	}
	return out
}

func newAnalyzer(bars ...[]domain.Bar) *Analyzer {
	p := marketdata.NewMemoryProvider()
	for _, b := range bars {
		p.Add(b...)
	}
	return New(p, Options{}, zerolog.Nop())
}

func TestQuickStatsBuyAndHold(t *testing.T) {
	a := newAnalyzer(series("AAA", 100, 110, 99, 121))

	qs, err := a.QuickStats(context.Background(), "aaa", day0, day0.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, "AAA", qs.Symbol)
	assert.Equal(t, 4, qs.DataPoints)
	assert.True(t, qs.Start.Equal(day0))
	assert.True(t, qs.End.Equal(day0.AddDate(0, 0, 3)))
	assert.InDelta(t, 0.21, qs.Metrics.TotalReturn, 1e-12)
	assert.InDelta(t, 99.0/110-1, qs.Metrics.MaxDrawdown, 1e-12)
	assert.Equal(t, 3, qs.Metrics.Days)
	assert.InDelta(t, 2.0/3, qs.Metrics.WinRate, 1e-12)
}

func TestQuickStatsErrors(t *testing.T) {
	a := newAnalyzer(series("AAA", 100))
	ctx := context.Background()
	end := day0.AddDate(0, 0, 5)

	_, err := a.QuickStats(ctx, "ZZZ", day0, end)
	var dErr *domain.DataIntegrityError
	require.True(t, errors.As(err, &dErr), "got %v", err)
	assert.Equal(t, "ZZZ", dErr.Symbol)

	_, err = a.QuickStats(ctx, "AAA", day0, end)
	var hErr *domain.InsufficientHistoryError
	require.True(t, errors.As(err, &hErr), "got %v", err)
	assert.Equal(t, 1, hErr.Available)

	_, err = a.QuickStats(ctx, "AAA", end, day0)
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Equal(t, "end_date", vErr.Field)

	_, err = a.QuickStats(ctx, " ", day0, end)
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Equal(t, "symbol", vErr.Field)
}

func TestPriceHistoryNormalises(t *testing.T) {
	bars := series("aaa", 10, 11, 12)
	bars[0], bars[2] = bars[2], bars[0]
	a := newAnalyzer(bars)

	got, err := a.PriceHistory(context.Background(), "AAA", day0, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAA", got[0].Symbol)
	assert.Equal(t, 10.0, got[0].Close)
	assert.Equal(t, 11.0, got[1].Close)
}

func TestAnalyzeStatistics(t *testing.T) {
	a := newAnalyzer(series("AAA", 100, 102, 101, 105, 104))

	res, err := a.Analyze(context.Background(), Request{
		Symbols: []string{"aaa", "AAA"},
		Start:   day0,
		End:     day0.AddDate(0, 0, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, res.Symbols)
	require.Len(t, res.Reports, 1)
	assert.Nil(t, res.Matrix)

	rep := res.Reports[0]
	assert.InDelta(t, 102.4, rep.Prices.Mean, 1e-12)
	assert.Equal(t, 104.0, rep.Prices.Current)
	assert.Equal(t, 100.0, rep.Prices.Min)
	assert.Equal(t, 105.0, rep.Prices.Max)
	assert.Equal(t, 5, rep.Prices.DataPoints)
	assert.Greater(t, rep.Prices.StdDev, 0.0)
	assert.InDelta(t, 0.04, rep.Returns.Total, 1e-12)
	assert.Greater(t, rep.Returns.AnnualVolatility, 0.0)
	assert.Nil(t, rep.Correlations)
	assert.Nil(t, rep.Technical)
}

func TestAnalyzeCorrelations(t *testing.T) {
	aaa := marketdata.RandomWalk("AAA", marketdata.WalkConfig{Start: day0, Days: 120, Volatility: 0.01, Seed: 3})
	// BBB doubles AAA, so its returns are identical.
	bbb := make([]domain.Bar, len(aaa))
	for i, b := range aaa {
		b.Symbol = "BBB"
		b.Open, b.High, b.Low, b.Close = 2*b.Open, 2*b.High, 2*b.Low, 2*b.Close
		bbb[i] = b
	}
	flat := make([]domain.Bar, len(aaa))
	for i, b := range aaa {
		flat[i] = domain.Bar{Symbol: "FLAT", Timestamp: b.Timestamp, Open: 50, High: 50, Low: 50, Close: 50}
	}
	a := newAnalyzer(aaa, bbb, flat)

	res, err := a.Analyze(context.Background(), Request{
		Symbols:             []string{"AAA", "BBB", "FLAT"},
		Start:               day0,
		End:                 day0.AddDate(1, 0, 0),
		IncludeCorrelations: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Matrix, 3)
	for i := range res.Matrix {
		assert.Equal(t, 1.0, res.Matrix[i][i])
		for j := range res.Matrix {
			assert.Equal(t, res.Matrix[i][j], res.Matrix[j][i])
		}
	}
	assert.InDelta(t, 1.0, res.Matrix[0][1], 1e-9)
	assert.Equal(t, 0.0, res.Matrix[0][2])

	require.Len(t, res.Reports[0].Correlations, 2)
	assert.InDelta(t, 1.0, res.Reports[0].Correlations["BBB"], 1e-9)
	assert.Equal(t, 0.0, res.Reports[2].Correlations["AAA"])
	assert.NotContains(t, res.Reports[1].Correlations, "BBB")
}

func TestCorrelationUsesSharedDates(t *testing.T) {
	aaa := series("AAA", 100, 101, 99, 102, 98, 103)
	bbb := series("BBB", 50, 50.5, 49.5, 51, 49, 51.5)
	// Dropping BBB's third bar leaves AAA's move over that day unmatched.
	bbb = append(bbb[:2], bbb[3:]...)

	m := Correlation([]string{"AAA", "BBB"}, map[string][]domain.Bar{"AAA": aaa, "BBB": bbb})
	assert.InDelta(t, 1.0, m[0][1], 1e-9)

	m = Correlation([]string{"AAA", "BBB"}, map[string][]domain.Bar{"AAA": aaa[:2], "BBB": bbb[:2]})
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, m)
}

func TestAnalyzeValidation(t *testing.T) {
	a := newAnalyzer(series("AAA", 1, 2, 3))
	ctx := context.Background()
	end := day0.AddDate(0, 0, 5)
	many := make([]string, MaxSymbols+1)
	for i := range many {
		many[i] = string(rune('A' + i))
	}

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"no symbols", Request{Start: day0, End: end}, "symbols"},
		{"too many symbols", Request{Symbols: many, Start: day0, End: end}, "symbols"},
		{"blank symbol", Request{Symbols: []string{"AAA", ""}, Start: day0, End: end}, "symbols"},
		{"missing start", Request{Symbols: []string{"AAA"}, End: end}, "start_date"},
		{"reversed range", Request{Symbols: []string{"AAA"}, Start: end, End: day0}, "end_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Analyze(ctx, tt.req)
			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	_, err := a.Analyze(ctx, Request{Symbols: []string{"AAA", "NOPE"}, Start: day0, End: end})
	var dErr *domain.DataIntegrityError
	require.True(t, errors.As(err, &dErr), "got %v", err)
	assert.Equal(t, "NOPE", dErr.Symbol)
}

func TestTechnicalReadouts(t *testing.T) {
	bars := marketdata.RandomWalk("AAA", marketdata.WalkConfig{Start: day0, Days: 80, Volatility: 0.01, Seed: 9})

	got := Technical(bars)
	for _, k := range []string{"rsi", "macd", "macd_signal", "bb_upper", "bb_middle", "bb_lower", "sma_20", "sma_50"} {
		assert.Contains(t, got, k)
	}
	assert.Equal(t, got["sma_20"], got["bb_middle"])
	assert.Greater(t, got["bb_upper"], got["bb_middle"])
	assert.Less(t, got["bb_lower"], got["bb_middle"])
	assert.GreaterOrEqual(t, got["rsi"], 0.0)
	assert.LessOrEqual(t, got["rsi"], 100.0)

	short := Technical(bars[:30])
	assert.Contains(t, short, "sma_20")
	assert.NotContains(t, short, "sma_50")
}

func TestCategories(t *testing.T) {
	got := Categories([]domain.Asset{
		{Symbol: "QQQ", Class: domain.AssetClassEquity},
		{Symbol: "BTC/USD", Class: domain.AssetClassCrypto},
		{Symbol: "SPY", Class: domain.AssetClassEquity},
	})
	assert.Equal(t, map[string][]string{
		"equity": {"QQQ", "SPY"},
		"crypto": {"BTC/USD"},
	}, got)
}

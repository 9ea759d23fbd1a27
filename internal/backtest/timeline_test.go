package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestMaxTradingDays(t *testing.T) {
	start, end := date(2024, 1, 1), date(2024, 1, 14)
	assert.Equal(t, 10, maxTradingDays([]string{"SPY"}, start, end))
	assert.Equal(t, 14, maxTradingDays([]string{"SPY", "BTC/USD"}, start, end))
}

func TestTradingDaysUnion(t *testing.T) {
	bars := map[string][]domain.Bar{
		"A": {
			{Symbol: "A", Timestamp: date(2024, 1, 2)},
			{Symbol: "A", Timestamp: date(2024, 1, 4)},
		},
		"B": {
			{Symbol: "B", Timestamp: date(2024, 1, 3)},
			{Symbol: "B", Timestamp: date(2024, 1, 4)},
			{Symbol: "B", Timestamp: date(2024, 1, 20)},
		},
		"REF": {{Symbol: "REF", Timestamp: date(2024, 1, 5)}},
	}
	days := tradingDays(bars, []string{"A", "B"}, date(2024, 1, 1), date(2024, 1, 10))
	require.Len(t, days, 3)
	assert.True(t, days[0].Equal(date(2024, 1, 2)))
	assert.True(t, days[2].Equal(date(2024, 1, 4)))
}

func TestIsRebalanceDay(t *testing.T) {
	// Thu 2024-01-25 .. Tue 2024-02-06, weekdays only.
	days := []time.Time{
		date(2024, 1, 25), date(2024, 1, 26),
		date(2024, 1, 29), date(2024, 1, 30), date(2024, 1, 31),
		date(2024, 2, 1), date(2024, 2, 2),
		date(2024, 2, 5), date(2024, 2, 6),
	}

	var weekly, monthly []int
	for i := range days {
		if isRebalanceDay(domain.RebalanceWeekly, days, i, 0) {
			weekly = append(weekly, i)
		}
		if isRebalanceDay(domain.RebalanceMonthly, days, i, 0) {
			monthly = append(monthly, i)
		}
		assert.True(t, isRebalanceDay(domain.RebalanceDaily, days, i, 0))
	}
	assert.Equal(t, []int{0, 2, 7}, weekly)
	assert.Equal(t, []int{0, 5}, monthly)

	assert.True(t, isRebalanceDay(domain.RebalanceMonthly, days, 3, 3), "first evaluation day always rebalances")
}

func TestBenchmarkReturnsCarryForward(t *testing.T) {
	days := []time.Time{date(2024, 1, 2), date(2024, 1, 3), date(2024, 1, 4), date(2024, 1, 5)}
	bars := []domain.Bar{
		{Timestamp: date(2024, 1, 2), Close: 100},
		{Timestamp: date(2024, 1, 3), Close: 110},
		{Timestamp: date(2024, 1, 5), Close: 121},
	}
	got, ok := benchmarkReturns(bars, days, 1)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.10, got[0], 1e-12)
	assert.InDelta(t, 0.00, got[1], 1e-12)
	assert.InDelta(t, 0.10, got[2], 1e-12)
	assert.InDelta(t, 0.21, compound(got), 1e-12)

	_, ok = benchmarkReturns(bars[1:], days, 1)
	assert.False(t, ok, "no close before the first evaluation day")
}

func TestTrainingSetExcludesUnsettledTargets(t *testing.T) {
	bars := weekdayBars("SPY", monday, 10, func(i int) float64 { return 100 + float64(i) })
	s, err := buildSeries("SPY", bars, nil, dayEngine{}, 1)
	require.NoError(t, err)
	require.Len(t, s.samples, 9)
	assert.False(t, s.samples[8].hasTarget)

	// Boundary at bar 6: rows 1..4 settle on bars 2..5.
	X, y, first, last := s.trainingSet(bars[0].Date(), bars[6].Date(), false)
	require.Len(t, X, 4)
	assert.True(t, first.Equal(bars[1].Date()))
	assert.True(t, last.Equal(bars[4].Date()))
	assert.InDelta(t, 103.0/102.0-1, y[1], 1e-12)

	X, _, _, _ = s.trainingSet(bars[3].Date(), bars[6].Date(), false)
	assert.Len(t, X, 2)
	X, _, _, _ = s.trainingSet(bars[3].Date(), bars[6].Date(), true)
	assert.Len(t, X, 4)

	assert.Len(t, s.between(bars[4].Date(), bars[6].Date()), 1)
}

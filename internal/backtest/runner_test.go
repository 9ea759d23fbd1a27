package backtest

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain"
	"marketintel/internal/features"
	"marketintel/internal/marketdata"
	"marketintel/internal/model"
	"marketintel/internal/model/builtins"
	"marketintel/internal/store"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var monday = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// dayEngine emits [day number, 1-day return] from the second bar on, so
// tests can tell which dates a model has seen.
type dayEngine struct{}

func (dayEngine) Names() []string { return []string{"day", "return_1d"} }

func (dayEngine) Compute(bars, _ []domain.Bar) ([]domain.FeatureVector, error) {
	var out []domain.FeatureVector
	for i := 1; i < len(bars); i++ {
		d := bars[i].Date()
		out = append(out, domain.FeatureVector{
			Symbol: bars[i].Symbol,
			Date:   d,
			Values: []float64{dayNumber(d), bars[i].Close/bars[i-1].Close - 1},
		})
	}
	return out, nil
}

func dayNumber(d time.Time) float64 { return float64(d.Unix() / 86400) }

// constModel always predicts v.
type constModel struct {
	v      float64
	fitted bool
}

func (m *constModel) Name() string { return "const" }

func (m *constModel) Fit(X [][]float64, y []float64) error {
	_, err := model.CheckTrainingSet(X, y)
	m.fitted = err == nil
	return err
}

func (m *constModel) Predict([]float64) (float64, error) {
	if !m.fitted {
		return 0, model.ErrNotFitted
	}
	return m.v, nil
}

func constRegistry(v float64) *model.Registry {
	reg := model.NewRegistry()
	reg.Register(domain.ModelLinear, func(int64) model.Model { return &constModel{v: v} })
	return reg
}

// signModel predicts ±0.01 with the sign chosen by the row's date.
type signModel struct {
	sign   func(d time.Time) float64
	fitted bool
}

func (m *signModel) Name() string { return "sign" }

func (m *signModel) Fit(X [][]float64, y []float64) error {
	_, err := model.CheckTrainingSet(X, y)
	m.fitted = err == nil
	return err
}

func (m *signModel) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, model.ErrNotFitted
	}
	return 0.01 * m.sign(time.Unix(int64(x[0])*86400, 0).UTC()), nil
}

func signRegistry(sign func(d time.Time) float64) *model.Registry {
	reg := model.NewRegistry()
	reg.Register(domain.ModelLinear, func(int64) model.Model { return &signModel{sign: sign} })
	return reg
}

// alternateDaily flips sign on every calendar day, so consecutive trading
// days always disagree.
func alternateDaily(d time.Time) float64 {
	if (d.Unix()/86400)%2 == 0 {
		return 1
	}
	return -1
}

// alternateMonthly flips sign with the month.
func alternateMonthly(d time.Time) float64 {
	if d.Month()%2 == 0 {
		return 1
	}
	return -1
}

// weekdayBars builds n weekday bars starting at start with closes from
// price(i).
func weekdayBars(symbol string, start time.Time, n int, price func(i int) float64) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	day := start
	for len(bars) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			p := price(len(bars))
			bars = append(bars, domain.Bar{
				Symbol: symbol, Timestamp: day,
				Open: p, High: p, Low: p, Close: p, Volume: 1000,
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

func flat(p float64) func(int) float64 { return func(int) float64 { return p } }

func testOptions() Options {
	return Options{
		TrainingWindow: 40,
		RetrainEvery:   20,
		MinTrainRows:   10,
		LookbackDays:   -1,
	}
}

func newTestRunner(p marketdata.Provider, reg *model.Registry) *Runner {
	return NewRunner(p, reg, testOptions()).WithFeatures(dayEngine{})
}

func testRequest(start, end time.Time, symbols ...string) Request {
	return Request{
		Symbols:        symbols,
		ModelType:      domain.ModelLinear,
		Start:          start,
		End:            end,
		InitialCapital: 100_000,
		Rebalance:      domain.RebalanceDaily,
	}
}

func lastDate(bars []domain.Bar) time.Time { return bars[len(bars)-1].Date() }

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestFlatPricesProduceZeroMetrics(t *testing.T) {
	bars := weekdayBars("SPY", monday, 100, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	res, err := newTestRunner(p, constRegistry(0.01)).Run(context.Background(), testRequest(monday, lastDate(bars), "SPY"))
	require.NoError(t, err)

	require.Len(t, res.EquityCurve, 60)
	assert.InDelta(t, 0, res.Metrics.TotalReturn, 1e-12)
	assert.InDelta(t, 0, res.Metrics.SharpeRatio, 1e-12)
	assert.InDelta(t, 0, res.Metrics.MaxDrawdown, 1e-12)

	require.Len(t, res.Trades, 1, "only the initial entry")
	assert.Equal(t, domain.ActionBuy, res.Trades[0].Action)
	assert.True(t, res.Trades[0].Date.Equal(res.EquityCurve[0].Date))
	assert.Equal(t, 1, res.Metrics.TotalTrades)
}

func TestRisingPriceStableSignalTradesOnce(t *testing.T) {
	bars := weekdayBars("QQQ", monday, 252, func(i int) float64 { return 100 * (1 + float64(i)/251) })
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	res, err := newTestRunner(p, constRegistry(0.01)).Run(context.Background(), testRequest(monday, lastDate(bars), "QQQ"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.ActionBuy, res.Trades[0].Action)
	assert.Greater(t, res.FinalState.TotalValue, 100_000.0)
	assert.Greater(t, res.Metrics.TotalReturn, 0.0)
	assert.Equal(t, "QQQ", res.Benchmark.Symbol)
	assert.True(t, res.Benchmark.Available)
	assert.Greater(t, res.Benchmark.TotalReturn, 0.0)
}

func TestShortRangeFailsBeforeFetching(t *testing.T) {
	bars := weekdayBars("SPY", monday, 30, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	res, err := newTestRunner(p, constRegistry(0.01)).Run(context.Background(), testRequest(monday, lastDate(bars), "SPY"))
	require.Error(t, err)
	assert.Nil(t, res)

	var hist *domain.InsufficientHistoryError
	require.True(t, errors.As(err, &hist), "got %T", err)
	assert.Equal(t, 30, hist.Available)
	assert.Equal(t, 40, hist.Required)
	assert.Equal(t, 0, p.TotalCalls())
}

func TestSparseDataIsInsufficientHistory(t *testing.T) {
	// The range spans 80 weekdays but only 30 bars exist.
	bars := weekdayBars("SPY", monday, 30, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	_, err := newTestRunner(p, constRegistry(0.01)).Run(context.Background(), testRequest(monday, monday.AddDate(0, 0, 111), "SPY"))
	var hist *domain.InsufficientHistoryError
	require.True(t, errors.As(err, &hist), "got %v", err)
	assert.Equal(t, 30, hist.Available)
}

func TestOverAllocationIsClamped(t *testing.T) {
	a := weekdayBars("AAA", monday, 80, flat(50))
	b := weekdayBars("BBB", monday, 80, flat(200))
	p := marketdata.NewMemoryProvider()
	p.Add(a...)
	p.Add(b...)

	opts := testOptions()
	opts.Weights = map[string]float64{"AAA": 0.7, "BBB": 0.7}
	r := NewRunner(p, constRegistry(0.05), opts).WithFeatures(dayEngine{})

	res, err := r.Run(context.Background(), testRequest(monday, lastDate(a), "AAA", "BBB"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	for _, tr := range res.Trades {
		assert.InDelta(t, 50_000, tr.Value, 1e-6, tr.Symbol)
	}
	var gross float64
	for _, pos := range res.FinalState.Positions {
		gross += math.Abs(pos.MarketValue())
	}
	assert.LessOrEqual(t, gross, res.FinalState.TotalValue+1e-6)
}

// ---------------------------------------------------------------------------
// Walk-forward invariants
// ---------------------------------------------------------------------------

// spyModel predicts the latest 1-day return and fails the test when asked
// to predict a day whose target could have been known at fit time.
type spyModel struct {
	t      *testing.T
	index  map[float64]int
	maxFit int
	fitted bool
}

func (m *spyModel) Name() string { return "spy" }

func (m *spyModel) Fit(X [][]float64, y []float64) error {
	if _, err := model.CheckTrainingSet(X, y); err != nil {
		return err
	}
	m.maxFit = -1
	for _, row := range X {
		if i := m.index[row[0]]; i > m.maxFit {
			m.maxFit = i
		}
	}
	m.fitted = true
	return nil
}

func (m *spyModel) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, model.ErrNotFitted
	}
	// A row at index k has its 1-day target settled at k+1, which must be
	// before the predicted day.
	if i := m.index[x[0]]; i-m.maxFit < 2 {
		m.t.Errorf("predicted day %d with a model fit on rows up to day %d", i, m.maxFit)
	}
	return x[1], nil
}

func spyRun(t *testing.T) (*Result, []domain.Bar) {
	t.Helper()
	bars := marketdata.RandomWalk("SPY", marketdata.WalkConfig{Start: monday, Days: 120, Volatility: 0.01, Seed: 7})
	index := make(map[float64]int, len(bars))
	for i, b := range bars {
		index[dayNumber(b.Date())] = i
	}
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	reg := model.NewRegistry()
	reg.Register(domain.ModelLinear, func(int64) model.Model { return &spyModel{t: t, index: index} })

	req := testRequest(monday, lastDate(bars), "SPY")
	req.TransactionCost = 0.001
	res, err := newTestRunner(p, reg).Run(context.Background(), req)
	require.NoError(t, err)
	return res, bars
}

func TestNoLookAhead(t *testing.T) {
	res, bars := spyRun(t)

	require.Len(t, res.Windows, 4)
	for i, w := range res.Windows {
		assert.Equal(t, i, w.Index)
		assert.True(t, w.Boundary.Equal(bars[40+20*i].Date()), "window %d boundary %v", i, w.Boundary)
		assert.True(t, w.TrainEnd.Before(w.Boundary), "window %d trains through %v", i, w.TrainEnd)
		assert.False(t, w.LastDay.Before(w.Boundary))
		assert.Greater(t, w.Rows, 0)
	}
	assert.True(t, res.Windows[3].LastDay.Equal(lastDate(bars)))
}

func TestTradesStayInsideRange(t *testing.T) {
	res, bars := spyRun(t)
	require.NotEmpty(t, res.Trades)
	first, last := bars[40].Date(), lastDate(bars)
	for _, tr := range res.Trades {
		assert.False(t, tr.Date.Before(first) || tr.Date.After(last), "trade on %v", tr.Date)
	}
	for _, s := range res.Signals {
		assert.False(t, s.Date.Before(first) || s.Date.After(last), "signal on %v", s.Date)
		assert.LessOrEqual(t, math.Abs(s.TargetPosition), 1.0)
	}
}

func TestEquityAccountingIdentity(t *testing.T) {
	res, _ := spyRun(t)

	require.Len(t, res.EquityCurve, 80)
	assert.Len(t, res.Signals, 80)
	assert.Equal(t, len(res.Trades), res.Metrics.TotalTrades)

	fs := res.FinalState
	sum := fs.Cash
	for _, pos := range fs.Positions {
		sum += pos.MarketValue()
	}
	assert.InDelta(t, fs.TotalValue, sum, 1e-6)
	assert.InDelta(t, fs.TotalValue, res.EquityCurve[len(res.EquityCurve)-1].Value, 1e-6)

	growth := 1.0
	for _, pt := range res.EquityCurve {
		growth *= 1 + pt.Return
	}
	assert.InDelta(t, res.Metrics.TotalReturn, growth-1, 1e-9)
}

func TestRunIsDeterministic(t *testing.T) {
	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	p := marketdata.NewMemoryProvider()
	p.Add(marketdata.RandomWalk("SPY", marketdata.WalkConfig{Start: start, Days: 300, Drift: 0.0003, Volatility: 0.012, Seed: 1})...)
	p.Add(marketdata.RandomWalk("TLT", marketdata.WalkConfig{Start: start, Days: 300, Volatility: 0.008, Seed: 2})...)

	reg := builtins.NewRegistry(builtins.Config{ForestTrees: 10, ForestMaxDepth: 4})
	r := NewRunner(p, reg, Options{TrainingWindow: 100, RetrainEvery: 50})

	req := testRequest(time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC), start.AddDate(1, 1, 0), "SPY", "TLT")
	req.ModelType = domain.ModelRandomForest
	req.TransactionCost = 0.001

	first, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.Signals, second.Signals)
	assert.Equal(t, first.Windows, second.Windows)
}

func TestSequenceModelRuns(t *testing.T) {
	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	p := marketdata.NewMemoryProvider()
	p.Add(marketdata.RandomWalk("SPY", marketdata.WalkConfig{Start: start, Days: 260, Volatility: 0.01, Seed: 3})...)

	r := NewRunner(p, builtins.NewRegistry(builtins.Config{}), Options{TrainingWindow: 100, RetrainEvery: 40})
	req := testRequest(time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC), start.AddDate(1, 0, 0), "SPY")
	req.ModelType = domain.ModelLSTM
	req.Rebalance = domain.RebalanceWeekly

	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, res.EquityCurve)
	assert.Less(t, len(res.Signals), len(res.EquityCurve))
	assert.Equal(t, domain.ModelLSTM, res.Config.ModelType)
}

func TestMissingBarsHoldPosition(t *testing.T) {
	a := weekdayBars("AAA", monday, 100, flat(50))
	full := weekdayBars("BBB", monday, 100, flat(200))
	b := append(append([]domain.Bar(nil), full[:60]...), full[65:]...)
	p := marketdata.NewMemoryProvider()
	p.Add(a...)
	p.Add(b...)

	gap := make(map[time.Time]bool)
	for _, bar := range full[60:65] {
		gap[bar.Date()] = true
	}

	res, err := newTestRunner(p, signRegistry(alternateDaily)).Run(context.Background(), testRequest(monday, lastDate(a), "AAA", "BBB"))
	require.NoError(t, err)
	require.Len(t, res.EquityCurve, 60)

	aaaOnGap := 0
	for _, tr := range res.Trades {
		if !gap[tr.Date] {
			continue
		}
		assert.NotEqual(t, "BBB", tr.Symbol, "BBB traded on %v without a bar", tr.Date)
		if tr.Symbol == "AAA" {
			aaaOnGap++
		}
	}
	assert.Equal(t, len(gap), aaaOnGap, "AAA keeps rebalancing through BBB's gap")

	bbbAfter := false
	for _, s := range res.Signals {
		if s.Symbol != "BBB" {
			continue
		}
		assert.False(t, gap[s.Date], "BBB signal on %v", s.Date)
		if s.Date.After(full[64].Date()) {
			bbbAfter = true
		}
	}
	assert.True(t, bbbAfter, "BBB resumes after the gap")

	// The held BBB position is still marked and accounted for.
	for _, pt := range res.EquityCurve {
		assert.InDelta(t, 100_000, pt.Value, 1e-6, "value on %v", pt.Date)
	}
}

func TestExpandingWindowKeepsTrainStart(t *testing.T) {
	bars := weekdayBars("SPY", monday, 120, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)
	req := testRequest(monday, lastDate(bars), "SPY")

	opts := testOptions()
	opts.ExpandingWindow = true
	expanding, err := NewRunner(p, constRegistry(0.01), opts).WithFeatures(dayEngine{}).Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, expanding.Windows, 4)
	for i, w := range expanding.Windows {
		assert.True(t, w.TrainStart.Equal(bars[1].Date()), "window %d starts training at %v", i, w.TrainStart)
		assert.True(t, w.TrainEnd.Before(w.Boundary))
		if i > 0 {
			assert.Greater(t, w.Rows, expanding.Windows[i-1].Rows)
		}
	}

	trailing, err := newTestRunner(p, constRegistry(0.01)).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, trailing.Windows, 4)
	for i := 1; i < len(trailing.Windows); i++ {
		w := trailing.Windows[i]
		assert.True(t, w.TrainStart.Equal(bars[20*i].Date()), "window %d starts training at %v", i, w.TrainStart)
		assert.Less(t, w.Rows, expanding.Windows[i].Rows)
	}
}

func TestMonthlyRebalanceTradesOnFirstDayOfMonth(t *testing.T) {
	bars := weekdayBars("SPY", monday, 140, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	req := testRequest(monday, lastDate(bars), "SPY")
	req.Rebalance = domain.RebalanceMonthly
	res, err := newTestRunner(p, signRegistry(alternateMonthly)).Run(context.Background(), req)
	require.NoError(t, err)

	want := []time.Time{bars[40].Date()}
	for i := 41; i < len(bars); i++ {
		if bars[i].Date().Month() != bars[i-1].Date().Month() {
			want = append(want, bars[i].Date())
		}
	}
	require.Greater(t, len(want), 3)

	var got []time.Time
	for _, tr := range res.Trades {
		got = append(got, tr.Date)
	}
	assert.Equal(t, want, got)

	require.Len(t, res.Signals, len(want))
	for i, s := range res.Signals {
		assert.True(t, s.Date.Equal(want[i]), "signal on %v", s.Date)
	}
}

func TestWeeklyRebalanceTradesOnFirstDayOfWeek(t *testing.T) {
	bars := weekdayBars("SPY", monday, 80, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	req := testRequest(monday, lastDate(bars), "SPY")
	req.Rebalance = domain.RebalanceWeekly
	res, err := newTestRunner(p, signRegistry(alternateDaily)).Run(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, res.Signals)
	for _, s := range res.Signals {
		if s.Date.Equal(bars[40].Date()) {
			continue
		}
		assert.Equal(t, time.Monday, s.Date.Weekday(), "signal on %v", s.Date)
	}
	for _, tr := range res.Trades {
		assert.True(t, tr.Date.Equal(bars[40].Date()) || tr.Date.Weekday() == time.Monday, "trade on %v", tr.Date)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestTooFewTrainingRowsIsFitError(t *testing.T) {
	bars := weekdayBars("SPY", monday, 100, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	opts := testOptions()
	opts.MinTrainRows = 1000
	r := NewRunner(p, constRegistry(0.01), opts).WithFeatures(dayEngine{})

	_, err := r.Run(context.Background(), testRequest(monday, lastDate(bars), "SPY"))
	var fit *domain.FitError
	require.True(t, errors.As(err, &fit), "got %v", err)
	assert.Equal(t, domain.ModelLinear, fit.Model)
	assert.True(t, fit.WindowEnd.Equal(bars[40].Date()))
}

func TestNonFinitePredictionIsFitError(t *testing.T) {
	bars := weekdayBars("SPY", monday, 100, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	_, err := newTestRunner(p, constRegistry(math.NaN())).Run(context.Background(), testRequest(monday, lastDate(bars), "SPY"))
	var fit *domain.FitError
	require.True(t, errors.As(err, &fit), "got %v", err)
}

func TestMissingFirstDayPriceIsDataIntegrityError(t *testing.T) {
	a := weekdayBars("AAA", monday, 100, flat(100))
	b := weekdayBars("BBB", monday, 100, flat(100))[50:]
	p := marketdata.NewMemoryProvider()
	p.Add(a...)
	p.Add(b...)

	_, err := newTestRunner(p, constRegistry(0.01)).Run(context.Background(), testRequest(monday, lastDate(a), "AAA", "BBB"))
	var bad *domain.DataIntegrityError
	require.True(t, errors.As(err, &bad), "got %v", err)
	assert.Equal(t, "BBB", bad.Symbol)
	assert.True(t, bad.Date.Equal(a[40].Date()))
}

func TestCancelledContext(t *testing.T) {
	bars := weekdayBars("SPY", monday, 100, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestRunner(p, constRegistry(0.01)).Run(ctx, testRequest(monday, lastDate(bars), "SPY"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelStopsAtNextBoundary(t *testing.T) {
	bars := weekdayBars("SPY", monday, 100, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fits := 0
	reg := model.NewRegistry()
	reg.Register(domain.ModelLinear, func(int64) model.Model {
		fits++
		cancel()
		return &constModel{v: 0.01}
	})

	_, err := newTestRunner(p, reg).Run(ctx, testRequest(monday, lastDate(bars), "SPY"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fits)
}

func TestRequestValidation(t *testing.T) {
	end := monday.AddDate(0, 6, 0)
	valid := testRequest(monday, end, "SPY")

	tests := []struct {
		name  string
		edit  func(r *Request)
		field string
	}{
		{"no symbols", func(r *Request) { r.Symbols = nil }, "symbols"},
		{"blank symbol", func(r *Request) { r.Symbols = []string{" "} }, "symbols"},
		{"duplicate symbol", func(r *Request) { r.Symbols = []string{"spy", "SPY"} }, "symbols"},
		{"unknown model", func(r *Request) { r.ModelType = "prophet" }, "model_type"},
		{"missing dates", func(r *Request) { r.Start = time.Time{} }, "start_date"},
		{"reversed dates", func(r *Request) { r.Start, r.End = r.End, r.Start }, "end_date"},
		{"zero capital", func(r *Request) { r.InitialCapital = 0 }, "initial_capital"},
		{"negative cost", func(r *Request) { r.TransactionCost = -0.1 }, "transaction_cost"},
		{"negative slippage", func(r *Request) { r.Slippage = -0.001 }, "slippage"},
		{"unknown frequency", func(r *Request) { r.Rebalance = "hourly" }, "rebalance_frequency"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			req.Symbols = append([]string(nil), valid.Symbols...)
			tc.edit(&req)

			p := marketdata.NewMemoryProvider()
			_, err := newTestRunner(p, constRegistry(0.01)).Run(context.Background(), req)
			var v *domain.ValidationError
			require.True(t, errors.As(err, &v), "got %v", err)
			assert.Equal(t, tc.field, v.Field)
			assert.Equal(t, 0, p.TotalCalls())
		})
	}
}

func TestUnregisteredModelIsValidationError(t *testing.T) {
	req := testRequest(monday, monday.AddDate(0, 6, 0), "SPY")
	req.ModelType = domain.ModelXGBoost

	_, err := newTestRunner(marketdata.NewMemoryProvider(), constRegistry(0.01)).Run(context.Background(), req)
	var v *domain.ValidationError
	require.True(t, errors.As(err, &v), "got %v", err)
	assert.Equal(t, "model_type", v.Field)
}

func TestCatalogRejectsUnknownSymbol(t *testing.T) {
	catalog, err := store.NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer catalog.Close()
	require.NoError(t, catalog.SeedDefaults(context.Background()))

	p := marketdata.NewMemoryProvider()
	r := newTestRunner(p, constRegistry(0.01)).WithCatalog(catalog)

	_, err = r.Run(context.Background(), testRequest(monday, monday.AddDate(0, 6, 0), "SPY", "ZZZ"))
	var v *domain.ValidationError
	require.True(t, errors.As(err, &v), "got %v", err)
	assert.Contains(t, v.Message, "ZZZ")
	assert.Equal(t, 0, p.TotalCalls())
}

func TestRequestNormalize(t *testing.T) {
	req := Request{
		Symbols:   []string{" spy", "btc/usd "},
		ModelType: "XGBoost",
		Start:     time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}.Normalized()

	assert.Equal(t, []string{"SPY", "BTC/USD"}, req.Symbols)
	assert.Equal(t, domain.ModelXGBoost, req.ModelType)
	assert.Equal(t, domain.RebalanceDaily, req.Rebalance)
	assert.True(t, req.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestChooseBenchmark(t *testing.T) {
	assert.Equal(t, "SPY", chooseBenchmark([]string{"QQQ", "SPY"}, ""))
	assert.Equal(t, "QQQ", chooseBenchmark([]string{"QQQ", "TLT"}, ""))
	assert.Equal(t, "IWM", chooseBenchmark([]string{"QQQ"}, "IWM"))
}

func macroProvider(start time.Time, proxies ...string) *marketdata.MemoryProvider {
	p := marketdata.NewMemoryProvider()
	p.Add(marketdata.RandomWalk("SPY", marketdata.WalkConfig{Start: start, Days: 260, Volatility: 0.01, Seed: 3})...)
	for i, sym := range proxies {
		p.Add(marketdata.RandomWalk(sym, marketdata.WalkConfig{Start: start, Days: 260, Volatility: 0.01, Seed: int64(10 + i)})...)
	}
	return p
}

func TestMacroFeaturesWidenModelInput(t *testing.T) {
	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	req := testRequest(time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC), start.AddDate(1, 0, 0), "SPY")
	opts := Options{TrainingWindow: 100, RetrainEvery: 40, MacroFeatures: true}

	p := macroProvider(start, "VIXY", "TLT", "IEF")
	r := NewRunner(p, builtins.NewRegistry(builtins.Config{}), opts)
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Features, len(features.NewEngine().Names())+len(features.MacroNames()))
	assert.Contains(t, res.Features, "vol_regime")
	assert.Equal(t, 1, p.Calls("VIXY"))
	for _, tr := range res.Trades {
		assert.Equal(t, "SPY", tr.Symbol, "proxies are inputs, never traded")
	}

	off := NewRunner(macroProvider(start, "VIXY", "TLT", "IEF"), builtins.NewRegistry(builtins.Config{}), Options{TrainingWindow: 100, RetrainEvery: 40})
	res, err = off.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, features.NewEngine().Names(), res.Features)
}

func TestMacroFeaturesSkippedWithoutProxyBars(t *testing.T) {
	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	req := testRequest(time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC), start.AddDate(1, 0, 0), "SPY")

	p := macroProvider(start, "TLT", "IEF")
	r := NewRunner(p, builtins.NewRegistry(builtins.Config{}), Options{TrainingWindow: 100, RetrainEvery: 40, MacroFeatures: true})
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, features.NewEngine().Names(), res.Features)
	assert.Equal(t, 1, p.Calls("VIXY"))
}

func TestMacroFeaturesIgnoredByCustomEngine(t *testing.T) {
	bars := weekdayBars("SPY", monday, 100, flat(100))
	p := marketdata.NewMemoryProvider()
	p.Add(bars...)
	opts := testOptions()
	opts.MacroFeatures = true

	r := NewRunner(p, constRegistry(0.01), opts).WithFeatures(dayEngine{})
	res, err := r.Run(context.Background(), testRequest(bars[0].Date(), lastDate(bars), "SPY"))
	require.NoError(t, err)
	assert.Equal(t, []string{"day", "return_1d"}, res.Features)
	assert.Zero(t, p.Calls("VIXY"))
}

// Package backtest runs walk-forward backtests: it refits a predictive
// model on strictly past data at each retraining boundary, turns daily
// predictions into target positions, simulates the resulting trades and
// summarises the equity curve.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketintel/internal/domain"
	"marketintel/internal/features"
	"marketintel/internal/marketdata"
	"marketintel/internal/model"
	"marketintel/internal/perf"
	"marketintel/internal/portfolio"
	"marketintel/internal/signal"
	"marketintel/internal/store"
)

// Runner executes walk-forward backtests. It is safe for concurrent use;
// each run owns its models, simulator and signal tracker.
type Runner struct {
	provider marketdata.Provider
	registry *model.Registry
	features FeatureEngine
	catalog  store.CatalogStore
	opts     Options
	log      zerolog.Logger
}

// NewRunner creates a Runner that reads bars from provider and builds
// models from registry.
func NewRunner(provider marketdata.Provider, registry *model.Registry, opts Options) *Runner {
	return &Runner{
		provider: provider,
		registry: registry,
		features: features.NewEngine(),
		opts:     opts.WithDefaults(),
		log:      zerolog.Nop(),
	}
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(log zerolog.Logger) *Runner {
	r.log = log.With().Str("component", "backtest").Logger()
	return r
}

// WithCatalog makes requests fail validation for symbols that are not
// active in c.
func (r *Runner) WithCatalog(c store.CatalogStore) *Runner {
	r.catalog = c
	return r
}

// WithFeatures replaces the feature engine.
func (r *Runner) WithFeatures(fe FeatureEngine) *Runner {
	r.features = fe
	return r
}

// Options returns the runner's default options.
func (r *Runner) Options() Options { return r.opts }

// Models lists the registered model types.
func (r *Runner) Models() []domain.ModelType { return r.registry.List() }

// Run executes req with the runner's default options.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	return r.RunWithOptions(ctx, req, r.opts)
}

// RunWithOptions executes req. It returns a complete Result or one of
// *domain.ValidationError, *domain.InsufficientHistoryError,
// *domain.DataIntegrityError, *domain.FitError, or the context's error
// when cancelled at a retraining boundary.
func (r *Runner) RunWithOptions(ctx context.Context, req Request, opts Options) (*Result, error) {
	opts = opts.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalized()
	if !r.registry.Has(req.ModelType) {
		return nil, &domain.ValidationError{Field: "model_type", Message: fmt.Sprintf("model type %q is not registered", req.ModelType)}
	}
	if avail := maxTradingDays(req.Symbols, req.Start, req.End); avail <= opts.TrainingWindow {
		return nil, &domain.InsufficientHistoryError{
			Start: req.Start, End: req.End, Available: avail, Required: opts.TrainingWindow,
		}
	}
	if err := r.checkCatalog(ctx, req.Symbols); err != nil {
		return nil, err
	}
	return r.execute(ctx, req, opts)
}

func (r *Runner) checkCatalog(ctx context.Context, symbols []string) error {
	if r.catalog == nil {
		return nil
	}
	known, err := r.catalog.Known(ctx, symbols)
	if err != nil {
		return fmt.Errorf("checking symbols: %w", err)
	}
	for _, s := range symbols {
		if !known[s] {
			return &domain.ValidationError{Field: "symbols", Message: fmt.Sprintf("unknown symbol %s", s)}
		}
	}
	return nil
}

// chooseBenchmark picks the configured benchmark, else SPY when it is part
// of the request, else the first symbol.
func chooseBenchmark(symbols []string, configured string) string {
	if configured != "" {
		return configured
	}
	for _, s := range symbols {
		if s == "SPY" {
			return s
		}
	}
	return symbols[0]
}

// load prefetches bars for symbols plus the benchmark and builds each
// symbol's feature series. It returns the feature engine the series were
// built with, which carries the macro features when they are enabled and
// their proxies have data.
func (r *Runner) load(ctx context.Context, symbols []string, benchmark string, start, end time.Time, opts Options) (map[string][]domain.Bar, map[string]*series, FeatureEngine, error) {
	fetch := append([]string(nil), symbols...)
	if !contains(fetch, benchmark) {
		fetch = append(fetch, benchmark)
	}
	base, macroCapable := r.features.(*features.Engine)
	useMacro := opts.MacroFeatures && macroCapable
	if useMacro {
		for _, p := range opts.macroProxies() {
			if !contains(fetch, p) {
				fetch = append(fetch, p)
			}
		}
	}
	bars, err := marketdata.Prefetch(ctx, r.provider, fetch, start, end, opts.PrefetchConcurrency)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prefetch: %w", err)
	}

	fe := r.features
	if useMacro {
		m := features.Macro{
			Volatility: bars[opts.VolatilityProxy],
			LongBond:   bars[opts.LongBondProxy],
			MidBond:    bars[opts.MidBondProxy],
		}
		if m.Complete() {
			fe = base.WithMacro(m)
		} else {
			r.log.Warn().Strs("proxies", opts.macroProxies()).Msg("macro proxy without bars, macro features disabled")
		}
	}

	data := make(map[string]*series, len(symbols))
	for _, sym := range symbols {
		s, err := buildSeries(sym, bars[sym], bars[benchmark], fe, opts.Horizon)
		if err != nil {
			return nil, nil, nil, err
		}
		data[sym] = s
	}
	return bars, data, fe, nil
}

func (r *Runner) execute(ctx context.Context, req Request, opts Options) (*Result, error) {
	began := time.Now()
	benchmark := chooseBenchmark(req.Symbols, opts.Benchmark)

	bars, data, fe, err := r.load(ctx, req.Symbols, benchmark, req.Start.AddDate(0, 0, -opts.LookbackDays), req.End, opts)
	if err != nil {
		return nil, err
	}

	days := tradingDays(bars, req.Symbols, req.Start, req.End)
	first := opts.TrainingWindow
	if len(days) <= first {
		return nil, &domain.InsufficientHistoryError{
			Start: req.Start, End: req.End, Available: len(days), Required: first,
		}
	}

	sim, err := portfolio.NewSimulator(portfolio.Config{
		InitialCapital:   req.InitialCapital,
		TransactionCost:  req.TransactionCost,
		Slippage:         req.Slippage,
		MinTradeNotional: opts.MinTradeNotional,
		MinTradeFraction: opts.MinTradeFraction,
	})
	if err != nil {
		return nil, err
	}
	alloc := portfolio.NewAllocator(opts.MaxPositionPct, opts.Weights)
	tracker := signal.NewTracker(opts.SignalWindow)

	// Last valid close per symbol, seeded from history before the first
	// evaluation day.
	lastPrice := make(map[string]float64, len(req.Symbols))
	for _, sym := range req.Symbols {
		for _, b := range bars[sym] {
			if b.Close > 0 && b.Date().Before(days[first]) {
				lastPrice[sym] = b.Close
			}
		}
		if _, ok := lastPrice[sym]; ok {
			continue
		}
		if _, ok := data[sym].closeOn(days[first]); !ok {
			return nil, &domain.DataIntegrityError{
				Symbol: sym, Date: days[first], Message: "no valid price on or before the first evaluation day",
			}
		}
	}

	var (
		models     = make(map[string]model.Model, len(req.Symbols))
		lastTarget = make(map[string]float64, len(req.Symbols))
		windows    []Window
		signals    []domain.Signal
		equity     = make([]domain.EquityPoint, 0, len(days)-first)
		prevValue  = req.InitialCapital
	)

	for i := first; i < len(days); i++ {
		d := days[i]

		if (i-first)%opts.RetrainEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			w, err := r.retrain(req, opts, data, days, i, len(windows), models)
			if err != nil {
				return nil, err
			}
			windows = append(windows, w)
		}
		win := &windows[len(windows)-1]
		win.LastDay = d

		today := make(map[string]float64, len(req.Symbols))
		for _, sym := range req.Symbols {
			if c, ok := data[sym].closeOn(d); ok {
				today[sym] = c
				lastPrice[sym] = c
			}
		}
		marks := make(map[string]float64, len(lastPrice))
		for sym, p := range lastPrice {
			marks[sym] = p
		}
		if _, err := sim.Mark(d, marks); err != nil {
			return nil, err
		}

		rebalance := isRebalanceDay(req.Rebalance, days, i, first)
		preds := make(map[string]float64, len(req.Symbols))
		for _, sym := range req.Symbols {
			m := models[sym]
			_, sequential := m.(model.Sequential)
			if !rebalance && !sequential {
				continue
			}
			x, ok := data[sym].features(d)
			if !ok {
				continue // hold
			}
			p, err := m.Predict(x)
			if err == nil && (math.IsNaN(p) || math.IsInf(p, 0)) {
				err = fmt.Errorf("non-finite prediction %v", p)
			}
			if err != nil {
				return nil, &domain.FitError{
					Model: req.ModelType, WindowStart: win.TrainStart, WindowEnd: win.Boundary,
					Err: fmt.Errorf("%s on %s: %w", sym, d.Format("2006-01-02"), err),
				}
			}
			preds[sym] = p
		}

		if rebalance && len(preds) > 0 {
			targets := make(map[string]float64, len(req.Symbols))
			for sym, t := range lastTarget {
				targets[sym] = t
			}
			for _, sym := range req.Symbols {
				p, ok := preds[sym]
				if !ok {
					continue
				}
				dec := tracker.Observe(sym, p)
				signals = append(signals, domain.Signal{
					Symbol:          sym,
					Date:            d,
					PredictedReturn: p,
					ZScore:          dec.ZScore,
					TargetPosition:  dec.TargetPosition,
					Label:           dec.Label,
					Confidence:      dec.Confidence,
				})
				targets[sym] = dec.TargetPosition
				lastTarget[sym] = dec.TargetPosition
			}

			// Held symbols count toward the gross clamp but keep their
			// holdings.
			weights := alloc.Allocate(targets, req.Symbols)
			submit := make(map[string]float64, len(preds))
			prices := make(map[string]float64, len(preds))
			for sym := range preds {
				submit[sym] = weights[sym]
				prices[sym] = today[sym]
			}
			if _, _, err := sim.Rebalance(d, submit, prices); err != nil {
				return nil, err
			}
		}

		value := sim.TotalValue()
		ret := 0.0
		if prevValue != 0 {
			ret = value/prevValue - 1
		}
		equity = append(equity, domain.EquityPoint{Date: d, Value: value, Return: ret})
		prevValue = value
	}

	values := make([]float64, len(equity))
	returns := make([]float64, len(equity))
	for i, p := range equity {
		values[i] = p.Value
		returns[i] = p.Return
	}
	benchReturns, benchOK := benchmarkReturns(bars[benchmark], days, first)

	trades := sim.Trades()
	metrics := perf.Compute(req.InitialCapital, values, returns, benchReturns, perf.Options{RiskFreeRate: opts.RiskFreeRate})
	metrics.TotalTrades = len(trades)

	res := &Result{
		ID:          uuid.NewString(),
		Metrics:     metrics,
		EquityCurve: equity,
		Trades:      trades,
		Signals:     signals,
		Windows:     windows,
		Features:    fe.Names(),
		Benchmark: BenchmarkSummary{
			Symbol:      benchmark,
			TotalReturn: compound(benchReturns),
			Available:   benchOK,
		},
		FinalState: sim.Snapshot(days[len(days)-1]),
		Config:     Config{Request: req, Options: opts},
	}

	r.log.Info().
		Str("model", string(req.ModelType)).
		Strs("symbols", req.Symbols).
		Int("days", len(equity)).
		Int("windows", len(windows)).
		Int("trades", len(trades)).
		Float64("total_return", metrics.TotalReturn).
		Float64("sharpe", metrics.SharpeRatio).
		Dur("elapsed", time.Since(began)).
		Msg("backtest complete")
	return res, nil
}

// retrain fits a fresh model per symbol for the window starting at
// days[i]. Only rows whose target settled before days[i] are used.
func (r *Runner) retrain(req Request, opts Options, data map[string]*series, days []time.Time, i, index int, models map[string]model.Model) (Window, error) {
	boundary := days[i]
	from := days[max(0, i-opts.TrainingWindow)]
	w := Window{Index: index, Boundary: boundary, LastDay: boundary}

	for _, sym := range req.Symbols {
		X, y, first, last := data[sym].trainingSet(from, boundary, opts.ExpandingWindow)
		windowStart := from
		if opts.ExpandingWindow && !first.IsZero() {
			windowStart = first
		}
		fail := func(err error) error {
			return &domain.FitError{
				Model: req.ModelType, WindowStart: windowStart, WindowEnd: boundary,
				Err: fmt.Errorf("%s: %w", sym, err),
			}
		}

		if len(X) < opts.MinTrainRows {
			return w, fail(fmt.Errorf("%d training rows, need %d", len(X), opts.MinTrainRows))
		}
		m, err := r.registry.New(req.ModelType, opts.Seed)
		if err != nil {
			return w, fail(err)
		}
		if err := m.Fit(X, y); err != nil {
			return w, fail(err)
		}
		// Bring recurrent state up to the day before the boundary.
		if seq, ok := m.(model.Sequential); ok {
			for _, x := range data[sym].between(last, boundary) {
				if _, err := seq.Predict(x); err != nil {
					return w, fail(err)
				}
			}
		}
		models[sym] = m

		if w.TrainStart.IsZero() || first.Before(w.TrainStart) {
			w.TrainStart = first
		}
		if last.After(w.TrainEnd) {
			w.TrainEnd = last
		}
		w.Rows += len(X)
	}

	r.log.Debug().
		Int("window", index).
		Time("boundary", boundary).
		Time("train_start", w.TrainStart).
		Time("train_end", w.TrainEnd).
		Int("rows", w.Rows).
		Msg("model refit")
	return w, nil
}

// benchmarkReturns computes the benchmark's daily returns over the
// evaluation days, carrying the last valid close across gaps. The first
// return is measured from the last close before the evaluation period.
func benchmarkReturns(bars []domain.Bar, days []time.Time, first int) ([]float64, bool) {
	closes := make(map[time.Time]float64, len(bars))
	var prev float64
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		closes[b.Date()] = b.Close
		if b.Date().Before(days[first]) {
			prev = b.Close
		}
	}
	if prev == 0 {
		return nil, false
	}
	out := make([]float64, 0, len(days)-first)
	for _, d := range days[first:] {
		c, ok := closes[d]
		if !ok {
			c = prev
		}
		out = append(out, c/prev-1)
		prev = c
	}
	return out, true
}

func compound(returns []float64) float64 {
	v := 1.0
	for _, r := range returns {
		v *= 1 + r
	}
	return v - 1
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

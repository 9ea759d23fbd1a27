// Package analysis summarises price history for one or more symbols:
// buy-and-hold performance, return distribution, technical indicator
// readouts and pairwise return correlation.
package analysis

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"marketintel/internal/domain"
	"marketintel/internal/features"
	"marketintel/internal/marketdata"
	"marketintel/internal/perf"
)

// MaxSymbols bounds one Analyze request.
const MaxSymbols = 20

// Options configures an Analyzer.
type Options struct {
	RiskFreeRate float64
	Concurrency  int // parallel fetches; 0 uses marketdata.DefaultPrefetchConcurrency
}

// Analyzer reads bars from a provider and derives descriptive statistics.
type Analyzer struct {
	provider marketdata.Provider
	opts     Options
	log      zerolog.Logger
}

// New creates an Analyzer.
func New(p marketdata.Provider, opts Options, log zerolog.Logger) *Analyzer {
	return &Analyzer{provider: p, opts: opts, log: log.With().Str("component", "analysis").Logger()}
}

// QuickStats is the buy-and-hold performance of a single symbol.
type QuickStats struct {
	Symbol     string       `json:"symbol"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	DataPoints int          `json:"data_points"`
	Metrics    perf.Metrics `json:"metrics"`
}

// PriceStats describes the close series.
type PriceStats struct {
	Mean       float64 `json:"mean_price"`
	Current    float64 `json:"current_price"`
	Min        float64 `json:"min_price"`
	Max        float64 `json:"max_price"`
	StdDev     float64 `json:"price_std"`
	DataPoints int     `json:"data_points"`
}

// ReturnStats describes the daily close-to-close returns.
type ReturnStats struct {
	MeanDaily        float64 `json:"mean_daily_return"`
	Total            float64 `json:"total_return"`
	AnnualVolatility float64 `json:"volatility_annualized"`
	Skewness         float64 `json:"skewness"`
	Kurtosis         float64 `json:"kurtosis"` // excess
}

// Report is the analysis of one symbol.
type Report struct {
	Symbol       string             `json:"symbol"`
	Prices       PriceStats         `json:"statistics"`
	Returns      ReturnStats        `json:"returns"`
	Correlations map[string]float64 `json:"correlations,omitempty"`
	Technical    map[string]float64 `json:"technical_indicators,omitempty"`
}

// Request selects the symbols and range for Analyze.
type Request struct {
	Symbols             []string
	Start               time.Time
	End                 time.Time
	IncludeCorrelations bool
	IncludeTechnical    bool
}

// Result is the output of Analyze. Matrix rows and columns follow
// Symbols; it is nil unless correlations were requested.
type Result struct {
	Symbols []string    `json:"symbols"`
	Reports []Report    `json:"reports"`
	Matrix  [][]float64 `json:"correlation_matrix,omitempty"`
}

func validateRange(start, end time.Time) error {
	if start.IsZero() {
		return &domain.ValidationError{Field: "start_date", Message: "is required"}
	}
	if end.IsZero() {
		return &domain.ValidationError{Field: "end_date", Message: "is required"}
	}
	if !start.Before(end) {
		return &domain.ValidationError{Field: "end_date", Message: "must be after start_date"}
	}
	return nil
}

func cleanSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", &domain.ValidationError{Field: "symbol", Message: "is required"}
	}
	return sym, nil
}

// PriceHistory returns the normalised bars for symbol within [start, end].
// A symbol without bars in range is a DataIntegrityError.
func (a *Analyzer) PriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	sym, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	bars, err := a.provider.FetchBars(ctx, sym, start, end)
	if err != nil {
		return nil, err
	}
	bars = marketdata.Normalize(sym, bars)
	if len(bars) == 0 {
		return nil, &domain.DataIntegrityError{Symbol: sym, Date: start, Message: "no bars in range"}
	}
	return bars, nil
}

// QuickStats holds one unit of symbol from the first close to the last and
// reports the resulting performance metrics.
func (a *Analyzer) QuickStats(ctx context.Context, symbol string, start, end time.Time) (*QuickStats, error) {
	bars, err := a.PriceHistory(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) < 2 {
		return nil, &domain.InsufficientHistoryError{Start: start, End: end, Available: len(bars), Required: 1}
	}
	closes := closesOf(bars)
	values := closes[1:]
	m := perf.Compute(closes[0], values, perf.Returns(closes[0], values), nil, perf.Options{RiskFreeRate: a.opts.RiskFreeRate})
	return &QuickStats{
		Symbol:     bars[0].Symbol,
		Start:      bars[0].Date(),
		End:        bars[len(bars)-1].Date(),
		DataPoints: len(bars),
		Metrics:    m,
	}, nil
}

// Analyze reports price and return statistics per symbol, optionally with
// indicator readouts and the return correlation between every pair.
// Correlation uses only dates on which every symbol has a bar.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if len(req.Symbols) == 0 {
		return nil, &domain.ValidationError{Field: "symbols", Message: "at least one symbol is required"}
	}
	if len(req.Symbols) > MaxSymbols {
		return nil, &domain.ValidationError{Field: "symbols", Message: "too many symbols"}
	}
	if err := validateRange(req.Start, req.End); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(req.Symbols))
	var symbols []string
	for _, s := range req.Symbols {
		sym, err := cleanSymbol(s)
		if err != nil {
			return nil, &domain.ValidationError{Field: "symbols", Message: "must not contain empty symbols"}
		}
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}

	bySymbol, err := marketdata.Prefetch(ctx, a.provider, symbols, req.Start, req.End, a.opts.Concurrency)
	if err != nil {
		return nil, err
	}
	for _, sym := range symbols {
		if len(bySymbol[sym]) == 0 {
			return nil, &domain.DataIntegrityError{Symbol: sym, Date: req.Start, Message: "no bars in range"}
		}
	}

	res := &Result{Symbols: symbols, Reports: make([]Report, 0, len(symbols))}
	for _, sym := range symbols {
		bars := bySymbol[sym]
		rep := Report{Symbol: sym, Prices: priceStats(bars), Returns: returnStats(bars)}
		if req.IncludeTechnical {
			rep.Technical = Technical(bars)
		}
		res.Reports = append(res.Reports, rep)
	}

	if req.IncludeCorrelations && len(symbols) > 1 {
		res.Matrix = Correlation(symbols, bySymbol)
		for i := range res.Reports {
			row := make(map[string]float64, len(symbols)-1)
			for j, other := range symbols {
				if j != i {
					row[other] = res.Matrix[i][j]
				}
			}
			res.Reports[i].Correlations = row
		}
	}
	a.log.Debug().Strs("symbols", symbols).Bool("correlations", res.Matrix != nil).Msg("analysis complete")
	return res, nil
}

func closesOf(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out[i-1] = closes[i]/closes[i-1] - 1
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func priceStats(bars []domain.Bar) PriceStats {
	closes := closesOf(bars)
	ps := PriceStats{
		Mean:       stat.Mean(closes, nil),
		Current:    closes[len(closes)-1],
		Min:        closes[0],
		Max:        closes[0],
		DataPoints: len(closes),
	}
	for _, c := range closes[1:] {
		ps.Min = math.Min(ps.Min, c)
		ps.Max = math.Max(ps.Max, c)
	}
	if len(closes) > 1 {
		ps.StdDev = stat.StdDev(closes, nil)
	}
	return ps
}

func returnStats(bars []domain.Bar) ReturnStats {
	closes := closesOf(bars)
	r := dailyReturns(closes)
	rs := ReturnStats{Total: closes[len(closes)-1]/closes[0] - 1}
	if len(r) == 0 {
		return rs
	}
	rs.MeanDaily = stat.Mean(r, nil)
	rs.AnnualVolatility = perf.Volatility(r)
	if len(r) > 2 {
		rs.Skewness = finite(stat.Skew(r, nil))
	}
	if len(r) > 3 {
		rs.Kurtosis = finite(stat.ExKurtosis(r, nil))
	}
	return rs
}

// Technical returns the latest defined readout of each indicator. An
// indicator still inside its warmup is omitted.
func Technical(bars []domain.Bar) map[string]float64 {
	closes := closesOf(bars)
	out := make(map[string]float64)
	put := func(name string, series []float64) {
		if v := series[len(series)-1]; !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
		}
	}
	put("rsi", features.RSI(closes, 14))
	line, sig, _ := features.MACD(closes, 12, 26, 9)
	put("macd", line)
	put("macd_signal", sig)

	mid := features.SMA(closes, 20)
	sd := features.RollingStd(closes, 20)
	upper := make([]float64, len(closes))
	lower := make([]float64, len(closes))
	for i := range closes {
		upper[i] = mid[i] + 2*sd[i]
		lower[i] = mid[i] - 2*sd[i]
	}
	put("bb_upper", upper)
	put("bb_middle", mid)
	put("bb_lower", lower)
	put("sma_20", mid)
	put("sma_50", features.SMA(closes, 50))
	return out
}

// Correlation returns the Pearson correlation of daily returns between
// every pair of symbols, over the dates all of them share. A flat series
// correlates 0 with everything but itself. Fewer than three shared dates
// yield the identity.
func Correlation(symbols []string, bySymbol map[string][]domain.Bar) [][]float64 {
	n := len(symbols)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}

	dates := commonDates(symbols, bySymbol)
	if len(dates) < 3 {
		return out
	}
	x := mat.NewDense(len(dates)-1, n, nil)
	for j, sym := range symbols {
		closes := make([]float64, 0, len(dates))
		for _, b := range bySymbol[sym] {
			if _, ok := dates[b.Date()]; ok {
				closes = append(closes, b.Close)
			}
		}
		for i, r := range dailyReturns(closes) {
			x.Set(i, j, r)
		}
	}

	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, x, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				out[i][j] = finite(corr.At(i, j))
			}
		}
	}
	return out
}

func commonDates(symbols []string, bySymbol map[string][]domain.Bar) map[time.Time]struct{} {
	count := make(map[time.Time]int)
	for _, sym := range symbols {
		for _, b := range bySymbol[sym] {
			count[b.Date()]++
		}
	}
	out := make(map[time.Time]struct{})
	for d, c := range count {
		if c == len(symbols) {
			out[d] = struct{}{}
		}
	}
	return out
}

// Categories groups catalog symbols by asset class, each group sorted.
func Categories(assets []domain.Asset) map[string][]string {
	out := make(map[string][]string)
	for _, a := range assets {
		class := string(a.Class)
		out[class] = append(out[class], a.Symbol)
	}
	for _, syms := range out {
		sort.Strings(syms)
	}
	return out
}

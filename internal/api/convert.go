package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketintel/internal/analysis"
	"marketintel/internal/backtest"
	"marketintel/internal/domain"
	"marketintel/internal/engine"
	"marketintel/pkg/marketintel"
)

// moneyPlaces is the number of decimal places kept for money on the wire.
const moneyPlaces = 4

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(moneyPlaces)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(marketintel.DateLayout)
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(marketintel.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: field, Message: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return t, nil
}

// ParseBacktestRequest converts a wire request into a backtest.Request.
// Only the wire format is checked here; field semantics are validated by
// the engine.
func ParseBacktestRequest(w marketintel.BacktestRequest) (backtest.Request, error) {
	start, err := parseDate("start_date", w.StartDate)
	if err != nil {
		return backtest.Request{}, err
	}
	end, err := parseDate("end_date", w.EndDate)
	if err != nil {
		return backtest.Request{}, err
	}
	cost := backtest.DefaultTransactionCost
	if w.TransactionCost != nil {
		cost = w.TransactionCost.InexactFloat64()
	}
	return backtest.Request{
		Symbols:         w.Symbols,
		ModelType:       domain.ModelType(w.ModelType),
		Start:           start,
		End:             end,
		InitialCapital:  w.InitialCapital.InexactFloat64(),
		TransactionCost: cost,
		Slippage:        w.Slippage.InexactFloat64(),
		Rebalance:       domain.RebalanceFrequency(w.RebalanceFrequency),
	}, nil
}

// NewBacktestResponse converts a result into its wire form.
func NewBacktestResponse(res *backtest.Result, cached bool) marketintel.BacktestResponse {
	out := marketintel.BacktestResponse{
		ID:          res.ID,
		Cached:      cached,
		Metrics:     res.Metrics,
		EquityCurve: make([]marketintel.EquityPoint, len(res.EquityCurve)),
		Trades:      make([]marketintel.Trade, len(res.Trades)),
		Signals:     make([]marketintel.Signal, len(res.Signals)),
		Windows:     make([]marketintel.Window, len(res.Windows)),
		Features:    res.Features,
		Benchmark: marketintel.Benchmark{
			Symbol:      res.Benchmark.Symbol,
			TotalReturn: res.Benchmark.TotalReturn,
			Available:   res.Benchmark.Available,
		},
		FinalState: newPortfolioState(res.FinalState),
	}
	for i, p := range res.EquityCurve {
		out.EquityCurve[i] = marketintel.EquityPoint{Date: formatDate(p.Date), Value: money(p.Value), Return: p.Return}
	}
	for i, t := range res.Trades {
		out.Trades[i] = marketintel.Trade{
			Date:        formatDate(t.Date),
			Symbol:      t.Symbol,
			Action:      string(t.Action),
			Quantity:    t.Quantity,
			Price:       money(t.Price),
			Value:       money(t.Value),
			CostPaid:    money(t.CostPaid),
			Slippage:    money(t.Slippage),
			RealizedPnL: money(t.RealizedPnL),
		}
	}
	for i, s := range res.Signals {
		out.Signals[i] = marketintel.Signal{
			Date:            formatDate(s.Date),
			Symbol:          s.Symbol,
			PredictedReturn: s.PredictedReturn,
			ZScore:          s.ZScore,
			TargetPosition:  s.TargetPosition,
			Signal:          string(s.Label),
			Confidence:      s.Confidence,
		}
	}
	for i, w := range res.Windows {
		out.Windows[i] = marketintel.Window{
			Index:      w.Index,
			Boundary:   formatDate(w.Boundary),
			LastDay:    formatDate(w.LastDay),
			TrainStart: formatDate(w.TrainStart),
			TrainEnd:   formatDate(w.TrainEnd),
			Rows:       w.Rows,
		}
	}

	cfg := res.Config
	out.Config = marketintel.RunConfig{
		ModelType:          string(cfg.ModelType),
		Symbols:            cfg.Symbols,
		StartDate:          formatDate(cfg.Start),
		EndDate:            formatDate(cfg.End),
		InitialCapital:     money(cfg.InitialCapital),
		TransactionCost:    decimal.NewFromFloat(cfg.TransactionCost),
		Slippage:           decimal.NewFromFloat(cfg.Slippage),
		RebalanceFrequency: string(cfg.Rebalance),
		TrainingWindow:     cfg.Options.TrainingWindow,
		RetrainEvery:       cfg.Options.RetrainEvery,
		Benchmark:          res.Benchmark.Symbol,
	}
	return out
}

func newPortfolioState(s domain.PortfolioState) marketintel.PortfolioState {
	out := marketintel.PortfolioState{
		Date:       formatDate(s.Date),
		Cash:       money(s.Cash),
		TotalValue: money(s.TotalValue),
		Positions:  make([]marketintel.Holding, 0, len(s.Positions)),
	}
	syms := make([]string, 0, len(s.Positions))
	for sym := range s.Positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		p := s.Positions[sym]
		out.Positions = append(out.Positions, marketintel.Holding{
			Symbol:      sym,
			Side:        string(p.Side()),
			Quantity:    p.Quantity,
			AvgCost:     money(p.AvgCost),
			LastPrice:   money(p.LastPrice),
			MarketValue: money(p.MarketValue()),
		})
	}
	return out
}

// NewJob converts an engine job into its wire form.
func NewJob(j engine.Job) marketintel.Job {
	out := marketintel.Job{
		ID:          j.ID,
		Status:      string(j.Status),
		SubmittedAt: j.Submitted,
		Error:       j.Error,
	}
	if !j.Started.IsZero() {
		t := j.Started
		out.StartedAt = &t
	}
	if !j.Finished.IsZero() {
		t := j.Finished
		out.FinishedAt = &t
	}
	if j.Result != nil {
		res := NewBacktestResponse(j.Result, j.Cached)
		out.Result = &res
	}
	return out
}

func newJobEvent(ev engine.Event) marketintel.JobEvent {
	return marketintel.JobEvent{
		Type:   ev.Type,
		JobID:  ev.JobID,
		Status: string(ev.Status),
		Error:  ev.Error,
		Time:   ev.Time,
	}
}

// ParseForecastRequest converts a wire forecast request.
func ParseForecastRequest(w marketintel.ForecastRequest) (backtest.ForecastRequest, error) {
	out := backtest.ForecastRequest{
		Symbols:   w.Symbols,
		ModelType: domain.ModelType(w.ModelType),
	}
	if strings.TrimSpace(w.AsOf) != "" {
		asOf, err := parseDate("as_of", w.AsOf)
		if err != nil {
			return backtest.ForecastRequest{}, err
		}
		out.AsOf = asOf
	}
	return out, nil
}

// NewForecastResponse converts forecasts into their wire form.
func NewForecastResponse(res *backtest.ForecastResult) marketintel.ForecastResponse {
	out := marketintel.ForecastResponse{
		ModelType: string(res.ModelType),
		AsOf:      formatDate(res.AsOf),
		Forecasts: make([]marketintel.Forecast, len(res.Forecasts)),
	}
	for i, f := range res.Forecasts {
		wf := marketintel.Forecast{
			Symbol:          f.Symbol,
			Date:            formatDate(f.Date),
			PredictedReturn: f.PredictedReturn,
			ZScore:          f.ZScore,
			TargetPosition:  f.TargetPosition,
			Signal:          string(f.Signal),
			Confidence:      f.Confidence,
			TrainRows:       f.TrainRows,
		}
		for _, fw := range f.TopFeatures {
			wf.TopFeatures = append(wf.TopFeatures, marketintel.FeatureWeight{Name: fw.Name, Weight: fw.Weight})
		}
		out.Forecasts[i] = wf
	}
	return out
}

func newAsset(a domain.Asset) marketintel.Asset {
	return marketintel.Asset{
		Symbol:     a.Symbol,
		Name:       a.Name,
		AssetClass: string(a.Class),
		Exchange:   a.Exchange,
	}
}

// ParseAnalysisRequest converts a wire analysis request.
func ParseAnalysisRequest(w marketintel.AnalysisRequest) (analysis.Request, error) {
	start, err := parseDate("start_date", w.StartDate)
	if err != nil {
		return analysis.Request{}, err
	}
	end, err := parseDate("end_date", w.EndDate)
	if err != nil {
		return analysis.Request{}, err
	}
	return analysis.Request{
		Symbols:             w.Symbols,
		Start:               start,
		End:                 end,
		IncludeCorrelations: w.IncludeCorrelations,
		IncludeTechnical:    w.IncludeTechnical,
	}, nil
}

// NewAnalysisResponse converts an analysis result into its wire form.
func NewAnalysisResponse(res *analysis.Result) marketintel.AnalysisResponse {
	out := marketintel.AnalysisResponse{
		Symbols:           res.Symbols,
		Analyses:          make([]marketintel.SymbolAnalysis, len(res.Reports)),
		CorrelationMatrix: res.Matrix,
	}
	for i, r := range res.Reports {
		out.Analyses[i] = marketintel.SymbolAnalysis{
			Symbol: r.Symbol,
			Statistics: marketintel.PriceStatistics{
				MeanPrice:    money(r.Prices.Mean),
				CurrentPrice: money(r.Prices.Current),
				MinPrice:     money(r.Prices.Min),
				MaxPrice:     money(r.Prices.Max),
				PriceStd:     money(r.Prices.StdDev),
				DataPoints:   r.Prices.DataPoints,
			},
			Returns: marketintel.ReturnStatistics{
				MeanDailyReturn:      r.Returns.MeanDaily,
				TotalReturn:          r.Returns.Total,
				VolatilityAnnualized: r.Returns.AnnualVolatility,
				Skewness:             r.Returns.Skewness,
				Kurtosis:             r.Returns.Kurtosis,
			},
			Correlations:        r.Correlations,
			TechnicalIndicators: r.Technical,
		}
	}
	return out
}

// NewQuickStatsResponse converts buy-and-hold stats into their wire form.
func NewQuickStatsResponse(qs *analysis.QuickStats) marketintel.QuickStatsResponse {
	return marketintel.QuickStatsResponse{
		Symbol:     qs.Symbol,
		StartDate:  formatDate(qs.Start),
		EndDate:    formatDate(qs.End),
		DataPoints: qs.DataPoints,
		Metrics:    qs.Metrics,
	}
}

// NewPriceHistoryResponse converts bars into their wire form.
func NewPriceHistoryResponse(symbol string, bars []domain.Bar) marketintel.PriceHistoryResponse {
	out := marketintel.PriceHistoryResponse{Symbol: symbol, Prices: make([]marketintel.PricePoint, len(bars))}
	for i, b := range bars {
		out.Prices[i] = marketintel.PricePoint{
			Date:   formatDate(b.Date()),
			Open:   money(b.Open),
			High:   money(b.High),
			Low:    money(b.Low),
			Close:  money(b.Close),
			Volume: b.Volume,
		}
	}
	return out
}

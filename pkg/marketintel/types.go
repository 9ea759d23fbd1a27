package marketintel

import (
	"time"

	"github.com/shopspring/decimal"

	"marketintel/internal/perf"
)

// DateLayout is the calendar-date format used for every date on the wire.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Backtest
// ---------------------------------------------------------------------------

// BacktestRequest is the body of POST /api/v1/backtest and /api/v1/jobs.
type BacktestRequest struct {
	Symbols            []string         `json:"symbols"`
	ModelType          string           `json:"model_type"`
	StartDate          string           `json:"start_date"`
	EndDate            string           `json:"end_date"`
	InitialCapital     decimal.Decimal  `json:"initial_capital"`
	TransactionCost    *decimal.Decimal `json:"transaction_cost,omitempty"` // nil means 0.001
	Slippage           decimal.Decimal  `json:"slippage"`                   // fill price move against each trade, default 0
	RebalanceFrequency string           `json:"rebalance_frequency,omitempty"`
}

// EquityPoint is one day of the equity curve.
type EquityPoint struct {
	Date   string          `json:"date"`
	Value  decimal.Decimal `json:"value"`
	Return float64         `json:"return"`
}

// Trade is one simulated fill.
type Trade struct {
	Date        string          `json:"date"`
	Symbol      string          `json:"symbol"`
	Action      string          `json:"action"`
	Quantity    float64         `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Value       decimal.Decimal `json:"value"`
	CostPaid    decimal.Decimal `json:"cost_paid"`
	Slippage    decimal.Decimal `json:"slippage"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Signal is one translated prediction.
type Signal struct {
	Date            string  `json:"date"`
	Symbol          string  `json:"symbol"`
	PredictedReturn float64 `json:"predicted_return"`
	ZScore          float64 `json:"z_score"`
	TargetPosition  float64 `json:"target_position"`
	Signal          string  `json:"signal"`
	Confidence      float64 `json:"confidence"`
}

// Window is one retraining boundary.
type Window struct {
	Index      int    `json:"index"`
	Boundary   string `json:"boundary"`
	LastDay    string `json:"last_day"`
	TrainStart string `json:"train_start"`
	TrainEnd   string `json:"train_end"`
	Rows       int    `json:"rows"`
}

// Benchmark summarises buy-and-hold of the benchmark symbol.
type Benchmark struct {
	Symbol      string  `json:"symbol"`
	TotalReturn float64 `json:"total_return"`
	Available   bool    `json:"available"`
}

// Holding is an open position of the final portfolio.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    float64         `json:"quantity"`
	AvgCost     decimal.Decimal `json:"average_cost"`
	LastPrice   decimal.Decimal `json:"last_price"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// PortfolioState is the portfolio after the last evaluation day.
type PortfolioState struct {
	Date       string          `json:"date"`
	Cash       decimal.Decimal `json:"cash"`
	TotalValue decimal.Decimal `json:"total_value"`
	Positions  []Holding       `json:"positions"`
}

// RunConfig echoes the effective inputs of a run.
type RunConfig struct {
	ModelType          string          `json:"model_type"`
	Symbols            []string        `json:"symbols"`
	StartDate          string          `json:"start_date"`
	EndDate            string          `json:"end_date"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	TransactionCost    decimal.Decimal `json:"transaction_cost"`
	Slippage           decimal.Decimal `json:"slippage"`
	RebalanceFrequency string          `json:"rebalance_frequency"`
	TrainingWindow     int             `json:"training_window"`
	RetrainEvery       int             `json:"retrain_every"`
	Benchmark          string          `json:"benchmark,omitempty"`
}

// BacktestResponse is the complete result of a run.
type BacktestResponse struct {
	ID          string         `json:"id"`
	Cached      bool           `json:"cached"`
	Metrics     perf.Metrics   `json:"metrics"`
	EquityCurve []EquityPoint  `json:"equity_curve"`
	Trades      []Trade        `json:"trades"`
	Signals     []Signal       `json:"signals,omitempty"`
	Windows     []Window       `json:"windows"`
	Features    []string       `json:"features,omitempty"`
	Benchmark   Benchmark      `json:"benchmark"`
	FinalState  PortfolioState `json:"final_state"`
	Config      RunConfig      `json:"config"`
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// Job is the state of an asynchronous backtest.
type Job struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Result      *BacktestResponse `json:"result,omitempty"`
}

// Finished reports whether the job reached a terminal status.
func (j Job) Finished() bool { return j.Status == "done" || j.Status == "failed" }

// JobEvent is pushed to /ws subscribers on every job state change.
type JobEvent struct {
	Type   string    `json:"type"`
	JobID  string    `json:"job_id"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// ---------------------------------------------------------------------------
// Forecasts, catalog and models
// ---------------------------------------------------------------------------

// ForecastRequest is the body of POST /api/v1/forecast.
type ForecastRequest struct {
	Symbols   []string `json:"symbols"`
	ModelType string   `json:"model_type"`
	AsOf      string   `json:"as_of,omitempty"` // empty means today
}

// FeatureWeight is one feature importance.
type FeatureWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Forecast is the next-horizon prediction for one symbol.
type Forecast struct {
	Symbol          string          `json:"symbol"`
	Date            string          `json:"date"`
	PredictedReturn float64         `json:"predicted_return"`
	ZScore          float64         `json:"z_score"`
	TargetPosition  float64         `json:"target_position"`
	Signal          string          `json:"signal"`
	Confidence      float64         `json:"confidence"`
	TrainRows       int             `json:"train_rows"`
	TopFeatures     []FeatureWeight `json:"top_features,omitempty"`
}

// ForecastResponse holds the forecasts in request order.
type ForecastResponse struct {
	ModelType string     `json:"model_type"`
	AsOf      string     `json:"as_of"`
	Forecasts []Forecast `json:"forecasts"`
}

// Asset is a catalog entry.
type Asset struct {
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	AssetClass string `json:"asset_class"`
	Exchange   string `json:"exchange"`
}

// AssetsResponse lists catalog entries.
type AssetsResponse struct {
	Assets []Asset `json:"assets"`
}

// AssetCategoriesResponse groups catalog symbols by asset class.
type AssetCategoriesResponse struct {
	Categories map[string][]string `json:"categories"`
}

// ModelsResponse lists the registered model types.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

// QuickStatsResponse is the buy-and-hold performance of one symbol.
type QuickStatsResponse struct {
	Symbol     string       `json:"symbol"`
	StartDate  string       `json:"start_date"`
	EndDate    string       `json:"end_date"`
	DataPoints int          `json:"data_points"`
	Metrics    perf.Metrics `json:"metrics"`
}

// AnalysisRequest is the body of POST /api/v1/analysis.
type AnalysisRequest struct {
	Symbols             []string `json:"symbols"`
	StartDate           string   `json:"start_date"`
	EndDate             string   `json:"end_date"`
	IncludeCorrelations bool     `json:"include_correlations"`
	IncludeTechnical    bool     `json:"include_technical"`
}

// PriceStatistics describes a symbol's close series.
type PriceStatistics struct {
	MeanPrice    decimal.Decimal `json:"mean_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MinPrice     decimal.Decimal `json:"min_price"`
	MaxPrice     decimal.Decimal `json:"max_price"`
	PriceStd     decimal.Decimal `json:"price_std"`
	DataPoints   int             `json:"data_points"`
}

// ReturnStatistics describes a symbol's daily returns.
type ReturnStatistics struct {
	MeanDailyReturn      float64 `json:"mean_daily_return"`
	TotalReturn          float64 `json:"total_return"`
	VolatilityAnnualized float64 `json:"volatility_annualized"`
	Skewness             float64 `json:"skewness"`
	Kurtosis             float64 `json:"kurtosis"`
}

// SymbolAnalysis is the analysis of one symbol.
type SymbolAnalysis struct {
	Symbol              string             `json:"symbol"`
	Statistics          PriceStatistics    `json:"statistics"`
	Returns             ReturnStatistics   `json:"returns"`
	Correlations        map[string]float64 `json:"correlations,omitempty"`
	TechnicalIndicators map[string]float64 `json:"technical_indicators,omitempty"`
}

// AnalysisResponse holds one analysis per distinct symbol in request
// order. CorrelationMatrix follows Symbols when correlations were requested.
type AnalysisResponse struct {
	Symbols           []string         `json:"symbols"`
	Analyses          []SymbolAnalysis `json:"analyses"`
	CorrelationMatrix [][]float64      `json:"correlation_matrix,omitempty"`
}

// PricePoint is one daily bar.
type PricePoint struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// PriceHistoryResponse is the daily bar history of one symbol.
type PriceHistoryResponse struct {
	Symbol string       `json:"symbol"`
	Prices []PricePoint `json:"prices"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`            // invalid, insufficient_history, data_integrity, fit_error, timeout, ...
	Field string `json:"field,omitempty"` // set for invalid requests
}

package backtest

import (
	"time"

	"marketintel/internal/domain"
	"marketintel/internal/perf"
)

// Window records one retraining boundary of a run.
type Window struct {
	Index      int       `json:"index"`
	Boundary   time.Time `json:"boundary"`    // first evaluation day served by this fit
	LastDay    time.Time `json:"last_day"`    // last evaluation day served by this fit
	TrainStart time.Time `json:"train_start"` // earliest training row across symbols
	TrainEnd   time.Time `json:"train_end"`   // latest training row across symbols
	Rows       int       `json:"rows"`        // training rows across symbols
}

// BenchmarkSummary describes the buy-and-hold benchmark over the
// evaluation days.
type BenchmarkSummary struct {
	Symbol      string  `json:"symbol"`
	TotalReturn float64 `json:"total_return"`
	Available   bool    `json:"available"`
}

// Config echoes the inputs of a run.
type Config struct {
	Request
	Options Options `json:"options"`
}

// Result is the complete outcome of a run. It is built once after the
// last evaluation day and not modified afterwards.
type Result struct {
	ID          string                `json:"id"`
	Metrics     perf.Metrics          `json:"metrics"`
	EquityCurve []domain.EquityPoint  `json:"equity_curve"`
	Trades      []domain.Trade        `json:"trades"`
	Signals     []domain.Signal       `json:"signals"`
	Windows     []Window              `json:"windows"`
	Features    []string              `json:"features"` // feature names in model input order
	Benchmark   BenchmarkSummary      `json:"benchmark"`
	FinalState  domain.PortfolioState `json:"final_state"`
	Config      Config                `json:"config"`
}

package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"marketintel/internal/domain"
	"marketintel/internal/signal"
)

// DefaultTransactionCost is the cost fraction callers apply when a request
// does not name one.
const DefaultTransactionCost = 0.001

// Request describes one backtest run.
type Request struct {
	Symbols         []string                  `json:"symbols"`
	ModelType       domain.ModelType          `json:"model_type"`
	Start           time.Time                 `json:"start_date"`
	End             time.Time                 `json:"end_date"`
	InitialCapital  float64                   `json:"initial_capital"`
	TransactionCost float64                   `json:"transaction_cost"`
	Slippage        float64                   `json:"slippage"` // fill price move against each trade; zero by default
	Rebalance       domain.RebalanceFrequency `json:"rebalance_frequency"`
}

// Options tunes the walk-forward loop. Zero fields take the defaults from
// DefaultOptions.
type Options struct {
	TrainingWindow  int  `json:"training_window" yaml:"training_window"` // trading days in each training window
	RetrainEvery    int  `json:"retrain_every" yaml:"retrain_every"`     // evaluation days between refits
	ExpandingWindow bool `json:"expanding_window" yaml:"expanding_window"`
	Horizon         int  `json:"horizon" yaml:"horizon"`               // forward-return horizon in bars
	MinTrainRows    int  `json:"min_train_rows" yaml:"min_train_rows"` // fewer rows is a fit error
	LookbackDays    int  `json:"lookback_days" yaml:"lookback_days"`   // calendar days fetched before Start for indicator warm-up; < 0 disables
	SignalWindow    int  `json:"signal_window" yaml:"signal_window"`

	MinTradeNotional float64            `json:"min_trade_notional" yaml:"min_trade_notional"`
	MinTradeFraction float64            `json:"min_trade_fraction" yaml:"min_trade_fraction"`
	MaxPositionPct   float64            `json:"max_position_pct" yaml:"max_position_pct"`
	Weights          map[string]float64 `json:"weights,omitempty" yaml:"weights"`

	Benchmark    string  `json:"benchmark" yaml:"benchmark"`
	RiskFreeRate float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
	Seed         int64   `json:"seed" yaml:"seed"`

	// MacroFeatures adds volatility regime and yield curve features read
	// from the three proxy symbols. A run whose proxies have no bars
	// continues without them.
	MacroFeatures   bool   `json:"macro_features" yaml:"macro_features"`
	VolatilityProxy string `json:"volatility_proxy,omitempty" yaml:"volatility_proxy"`
	LongBondProxy   string `json:"long_bond_proxy,omitempty" yaml:"long_bond_proxy"`
	MidBondProxy    string `json:"mid_bond_proxy,omitempty" yaml:"mid_bond_proxy"`

	PrefetchConcurrency int `json:"-" yaml:"prefetch_concurrency"`
}

// DefaultOptions returns the stock walk-forward settings: a 252-day
// training window refit quarterly, one-day targets and a 20-prediction
// signal window.
func DefaultOptions() Options {
	return Options{
		TrainingWindow:   252,
		RetrainEvery:     63,
		Horizon:          1,
		MinTrainRows:     30,
		LookbackDays:     90,
		SignalWindow:     signal.DefaultWindow,
		MinTradeNotional: 1.0,
		Seed:             42,
		VolatilityProxy:  "VIXY",
		LongBondProxy:    "TLT",
		MidBondProxy:     "IEF",
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.TrainingWindow <= 0 {
		o.TrainingWindow = d.TrainingWindow
	}
	if o.RetrainEvery <= 0 {
		o.RetrainEvery = d.RetrainEvery
	}
	if o.Horizon <= 0 {
		o.Horizon = d.Horizon
	}
	if o.MinTrainRows <= 0 {
		o.MinTrainRows = d.MinTrainRows
	}
	if o.LookbackDays == 0 {
		o.LookbackDays = d.LookbackDays
	}
	if o.LookbackDays < 0 {
		o.LookbackDays = 0
	}
	if o.SignalWindow <= 0 {
		o.SignalWindow = d.SignalWindow
	}
	if o.MinTradeNotional <= 0 {
		o.MinTradeNotional = d.MinTradeNotional
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	o.Benchmark = strings.ToUpper(strings.TrimSpace(o.Benchmark))
	for _, p := range []struct {
		v   *string
		def string
	}{
		{&o.VolatilityProxy, d.VolatilityProxy},
		{&o.LongBondProxy, d.LongBondProxy},
		{&o.MidBondProxy, d.MidBondProxy},
	} {
		if *p.v = strings.ToUpper(strings.TrimSpace(*p.v)); *p.v == "" {
			*p.v = p.def
		}
	}
	return o
}

func (o Options) macroProxies() []string {
	return []string{o.VolatilityProxy, o.LongBondProxy, o.MidBondProxy}
}

// Normalized returns a copy of req with upper-cased symbols, date-only
// bounds and a resolved rebalance frequency.
func (req Request) Normalized() Request {
	out := req
	out.Symbols = make([]string, len(req.Symbols))
	for i, s := range req.Symbols {
		out.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	out.Start = domain.DateOf(req.Start)
	out.End = domain.DateOf(req.End)
	if f, ok := domain.ParseRebalanceFrequency(string(req.Rebalance)); ok {
		out.Rebalance = f
	}
	if mt, ok := domain.ParseModelType(string(req.ModelType)); ok {
		out.ModelType = mt
	}
	return out
}

// Validate checks the request fields that need no I/O.
func (req Request) Validate() error {
	if len(req.Symbols) == 0 {
		return &domain.ValidationError{Field: "symbols", Message: "must not be empty"}
	}
	seen := make(map[string]bool, len(req.Symbols))
	for _, s := range req.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			return &domain.ValidationError{Field: "symbols", Message: "contains an empty symbol"}
		}
		if seen[s] {
			return &domain.ValidationError{Field: "symbols", Message: fmt.Sprintf("duplicate symbol %s", s)}
		}
		seen[s] = true
	}
	if _, ok := domain.ParseModelType(string(req.ModelType)); !ok {
		return &domain.ValidationError{Field: "model_type", Message: fmt.Sprintf("unknown model type %q", req.ModelType)}
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return &domain.ValidationError{Field: "start_date", Message: "start and end dates are required"}
	}
	if !domain.DateOf(req.Start).Before(domain.DateOf(req.End)) {
		return &domain.ValidationError{Field: "end_date", Message: "must be after start_date"}
	}
	if !(req.InitialCapital > 0) || math.IsInf(req.InitialCapital, 0) {
		return &domain.ValidationError{Field: "initial_capital", Message: "must be positive"}
	}
	if math.IsNaN(req.TransactionCost) || req.TransactionCost < 0 || req.TransactionCost >= 1 {
		return &domain.ValidationError{Field: "transaction_cost", Message: "must be in [0, 1)"}
	}
	if math.IsNaN(req.Slippage) || req.Slippage < 0 || req.Slippage >= 1 {
		return &domain.ValidationError{Field: "slippage", Message: "must be in [0, 1)"}
	}
	if _, ok := domain.ParseRebalanceFrequency(string(req.Rebalance)); !ok {
		return &domain.ValidationError{Field: "rebalance_frequency", Message: fmt.Sprintf("unknown frequency %q", req.Rebalance)}
	}
	return nil
}

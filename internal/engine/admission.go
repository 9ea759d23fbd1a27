package engine

import (
	"fmt"

	"marketintel/internal/backtest"
	"marketintel/internal/domain"
)

// Limits bounds the size of a run the service accepts. Zero fields are
// unlimited.
type Limits struct {
	MaxSymbols     int     `yaml:"max_symbols"`
	MaxYears       int     `yaml:"max_years"`
	MaxCapital     float64 `yaml:"max_capital"`
	MaxCostPercent float64 `yaml:"max_cost_percent"` // transaction cost cap, e.g. 5 for 5%
}

// DefaultLimits returns the stock admission limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSymbols:     20,
		MaxYears:       25,
		MaxCostPercent: 5,
	}
}

// Check rejects requests that exceed the limits with a
// *domain.ValidationError.
func (l Limits) Check(req backtest.Request) error {
	if l.MaxSymbols > 0 && len(req.Symbols) > l.MaxSymbols {
		return &domain.ValidationError{
			Field:   "symbols",
			Message: fmt.Sprintf("%d symbols requested, limit is %d", len(req.Symbols), l.MaxSymbols),
		}
	}
	if l.MaxYears > 0 && req.End.After(req.Start.AddDate(l.MaxYears, 0, 0)) {
		return &domain.ValidationError{
			Field:   "end_date",
			Message: fmt.Sprintf("date range exceeds %d years", l.MaxYears),
		}
	}
	if l.MaxCapital > 0 && req.InitialCapital > l.MaxCapital {
		return &domain.ValidationError{
			Field:   "initial_capital",
			Message: fmt.Sprintf("exceeds limit %.2f", l.MaxCapital),
		}
	}
	if l.MaxCostPercent > 0 && req.TransactionCost*100 > l.MaxCostPercent {
		return &domain.ValidationError{
			Field:   "transaction_cost",
			Message: fmt.Sprintf("exceeds %.2f%%", l.MaxCostPercent),
		}
	}
	return nil
}

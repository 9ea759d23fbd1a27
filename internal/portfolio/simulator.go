// Package portfolio simulates a cash account holding signed positions in
// many symbols. It turns target allocations into trades, charges
// transaction costs, and marks holdings to each day's close.
package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"marketintel/internal/domain"
)

// DefaultMinTradeNotional is the smallest trade value the simulator books.
const DefaultMinTradeNotional = 1.0

// quantityEpsilon is the absolute quantity treated as flat.
const quantityEpsilon = 1e-9

// Config holds the simulator's account parameters.
type Config struct {
	InitialCapital  float64
	TransactionCost float64 // fraction of notional charged on every fill
	Slippage        float64 // fraction the fill price moves against the trade

	// A rebalance whose notional change is below
	// max(MinTradeNotional, MinTradeFraction*total_value) is skipped.
	MinTradeNotional float64
	MinTradeFraction float64
}

// Simulator tracks cash, positions and the trade ledger. It is not safe for
// concurrent use.
type Simulator struct {
	cfg       Config
	cash      float64
	positions map[string]*domain.Position
	trades    []domain.Trade
}

// NewSimulator creates a Simulator funded with cfg.InitialCapital.
func NewSimulator(cfg Config) (*Simulator, error) {
	if !(cfg.InitialCapital > 0) || math.IsInf(cfg.InitialCapital, 0) {
		return nil, &domain.ValidationError{Field: "initial_capital", Message: "must be positive"}
	}
	if cfg.TransactionCost < 0 || cfg.TransactionCost >= 1 {
		return nil, &domain.ValidationError{Field: "transaction_cost", Message: "must be in [0, 1)"}
	}
	if cfg.Slippage < 0 || cfg.Slippage >= 1 {
		return nil, &domain.ValidationError{Field: "slippage", Message: "must be in [0, 1)"}
	}
	if cfg.MinTradeNotional <= 0 {
		cfg.MinTradeNotional = DefaultMinTradeNotional
	}
	return &Simulator{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*domain.Position),
	}, nil
}

// Cash returns the current cash balance.
func (s *Simulator) Cash() float64 { return s.cash }

// Position returns the holding in symbol; the zero Position when flat.
func (s *Simulator) Position(symbol string) domain.Position {
	if p, ok := s.positions[symbol]; ok {
		return *p
	}
	return domain.Position{Symbol: symbol}
}

// Trades returns a copy of the trade ledger in booking order.
func (s *Simulator) Trades() []domain.Trade {
	out := make([]domain.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// TotalValue is cash plus every position marked at its last price.
func (s *Simulator) TotalValue() float64 {
	total := s.cash
	for _, sym := range s.symbols() {
		total += s.positions[sym].MarketValue()
	}
	return total
}

// Snapshot returns the portfolio state as of date.
func (s *Simulator) Snapshot(date time.Time) domain.PortfolioState {
	positions := make(map[string]domain.Position, len(s.positions))
	for sym, p := range s.positions {
		positions[sym] = *p
	}
	return domain.PortfolioState{
		Date:       date,
		Cash:       s.cash,
		Positions:  positions,
		TotalValue: s.TotalValue(),
	}
}

// Mark updates the last price of each symbol in prices and returns the
// day's snapshot. Non-positive prices are rejected.
func (s *Simulator) Mark(date time.Time, prices map[string]float64) (domain.PortfolioState, error) {
	if err := validatePrices(date, prices); err != nil {
		return domain.PortfolioState{}, err
	}
	s.mark(prices)
	return s.Snapshot(date), nil
}

// Apply moves symbol toward target (a signed fraction of total value) at
// price, charging cost on the traded notional. Fills execute at price
// moved against the trade by the configured slippage. It returns the resulting
// snapshot and the booked trade, or nil when the change is below the
// minimum trade size.
func (s *Simulator) Apply(date time.Time, symbol string, target, price, cost float64) (domain.PortfolioState, *domain.Trade, error) {
	if err := validatePrice(date, symbol, price); err != nil {
		return domain.PortfolioState{}, nil, err
	}
	s.mark(map[string]float64{symbol: price})
	trade := s.rebalance(date, symbol, target, price, cost, s.TotalValue())
	return s.Snapshot(date), trade, nil
}

// Rebalance applies a full day of allocations. All prices are marked
// first so every symbol sizes against the same total value; allocations
// are clamped to a gross exposure of 1; reductions execute before
// increases so freed cash can fund buys. Symbols absent from allocations
// keep their holdings.
func (s *Simulator) Rebalance(date time.Time, allocations, prices map[string]float64) (domain.PortfolioState, []domain.Trade, error) {
	if err := validatePrices(date, prices); err != nil {
		return domain.PortfolioState{}, nil, err
	}
	for sym := range allocations {
		if _, ok := prices[sym]; !ok {
			return domain.PortfolioState{}, nil, &domain.DataIntegrityError{
				Symbol: sym, Date: date, Message: "no price for allocation",
			}
		}
	}
	s.mark(prices)

	clamped := Clamp(allocations, 1.0)
	total := s.TotalValue()

	syms := make([]string, 0, len(clamped))
	for sym := range clamped {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	var sells, buys []string
	for _, sym := range syms {
		desired := clamped[sym] * total / prices[sym]
		if desired < s.Position(sym).Quantity {
			sells = append(sells, sym)
		} else {
			buys = append(buys, sym)
		}
	}

	var booked []domain.Trade
	for _, sym := range append(sells, buys...) {
		if t := s.rebalance(date, sym, clamped[sym], prices[sym], s.cfg.TransactionCost, total); t != nil {
			booked = append(booked, *t)
		}
	}
	return s.Snapshot(date), booked, nil
}

// rebalance sizes symbol against total and books at most one trade.
func (s *Simulator) rebalance(date time.Time, symbol string, target, price, cost, total float64) *domain.Trade {
	current := s.Position(symbol).Quantity
	desired := target * total / price
	delta := desired - current
	if math.Abs(desired) < quantityEpsilon {
		delta = -current
	}

	threshold := math.Max(s.cfg.MinTradeNotional, s.cfg.MinTradeFraction*math.Abs(total))
	if math.Abs(delta)*price < threshold {
		return nil
	}

	if delta > 0 {
		affordable := 0.0
		if s.cash > 0 {
			affordable = s.cash / (s.fillPrice(price, delta) * (1 + cost))
		}
		if delta > affordable {
			delta = affordable
		}
		if delta*price < threshold {
			return nil
		}
	}

	return s.execute(date, symbol, delta, price, cost)
}

// fillPrice is the execution price of a fill of signed quantity delta
// against the market price.
func (s *Simulator) fillPrice(price, delta float64) float64 {
	if delta > 0 {
		return price * (1 + s.cfg.Slippage)
	}
	return price * (1 - s.cfg.Slippage)
}

// execute books a fill of signed quantity delta against market price.
func (s *Simulator) execute(date time.Time, symbol string, delta, price, cost float64) *domain.Trade {
	qty := math.Abs(delta)
	fill := s.fillPrice(price, delta)
	value := qty * fill
	fee := value * cost

	trade := domain.Trade{
		Date:     date,
		Symbol:   symbol,
		Quantity: qty,
		Price:    fill,
		Value:    value,
		CostPaid: fee,
		Slippage: qty * math.Abs(fill-price),
	}
	if delta > 0 {
		trade.Action = domain.ActionBuy
		s.cash -= value + fee
	} else {
		trade.Action = domain.ActionSell
		s.cash += value - fee
	}

	pos, ok := s.positions[symbol]
	if !ok {
		pos = &domain.Position{Symbol: symbol}
		s.positions[symbol] = pos
	}
	trade.RealizedPnL = applyFill(pos, delta, fill)
	pos.LastPrice = price
	if math.Abs(pos.Quantity) < quantityEpsilon {
		delete(s.positions, symbol)
	}

	s.trades = append(s.trades, trade)
	return &trade
}

// applyFill adds signed delta at price to pos, maintaining the average
// cost, and returns the PnL realised by any reduction.
func applyFill(pos *domain.Position, delta, price float64) float64 {
	q := pos.Quantity
	next := q + delta

	if q == 0 || (q > 0) == (delta > 0) {
		pos.AvgCost = (math.Abs(q)*pos.AvgCost + math.Abs(delta)*price) / math.Abs(next)
		pos.Quantity = next
		return 0
	}

	closed := math.Min(math.Abs(delta), math.Abs(q))
	realized := closed * (price - pos.AvgCost)
	if q < 0 {
		realized = -realized
	}

	switch {
	case math.Abs(next) < quantityEpsilon:
		pos.AvgCost = 0
	case (next > 0) != (q > 0):
		pos.AvgCost = price // flipped through flat
	}
	pos.Quantity = next
	return realized
}

func (s *Simulator) mark(prices map[string]float64) {
	for sym, p := range prices {
		if pos, ok := s.positions[sym]; ok {
			pos.LastPrice = p
		}
	}
}

func (s *Simulator) symbols() []string {
	syms := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func validatePrices(date time.Time, prices map[string]float64) error {
	syms := make([]string, 0, len(prices))
	for sym := range prices {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		if err := validatePrice(date, sym, prices[sym]); err != nil {
			return err
		}
	}
	return nil
}

func validatePrice(date time.Time, symbol string, price float64) error {
	if !(price > 0) || math.IsInf(price, 0) {
		return &domain.DataIntegrityError{
			Symbol:  symbol,
			Date:    date,
			Message: fmt.Sprintf("invalid price %v", price),
		}
	}
	return nil
}

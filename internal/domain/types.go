// Package domain defines the core value types shared by the backtesting
// engine: bars, feature vectors, positions, portfolio snapshots, trades,
// signals, and the enums that configure a run.
package domain

import (
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one daily OHLCV bar for a single symbol.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// Date returns the bar's trading day truncated to midnight UTC.
func (b Bar) Date() time.Time {
	return DateOf(b.Timestamp)
}

// DateOf truncates t to a calendar date at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FeatureVector holds the engineered features of one symbol on one date.
// Values line up with the feature engine's Names().
type FeatureVector struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Values []float64 `json:"values"`
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// PositionSide describes the direction of a position.
type PositionSide string

const (
	PositionSideFlat  PositionSide = "flat"
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a signed holding in one symbol.
type Position struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	AvgCost   float64 `json:"average_cost"`
	LastPrice float64 `json:"last_price"`
}

// MarketValue is the signed mark-to-market value of the position.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.LastPrice
}

// Side derives the position direction from the sign of Quantity.
func (p Position) Side() PositionSide {
	switch {
	case p.Quantity > 0:
		return PositionSideLong
	case p.Quantity < 0:
		return PositionSideShort
	default:
		return PositionSideFlat
	}
}

// PortfolioState is the snapshot of cash and holdings at the close of a day.
type PortfolioState struct {
	Date       time.Time           `json:"date"`
	Cash       float64             `json:"cash"`
	Positions  map[string]Position `json:"positions"`
	TotalValue float64             `json:"total_value"`
}

// Action is the direction of a booked trade.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Trade is a simulated fill recorded in the trade ledger.
type Trade struct {
	Date        time.Time `json:"date"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Value       float64   `json:"value"`
	CostPaid    float64   `json:"cost_paid"`
	Slippage    float64   `json:"slippage"` // cash lost to the fill price moving against the trade
	RealizedPnL float64   `json:"realized_pnl"`
}

// EquityPoint is one day of the equity curve.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Value  float64   `json:"value"`
	Return float64   `json:"return"`
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalType is the discrete recommendation derived from a prediction.
type SignalType string

const (
	SignalTypeBuy  SignalType = "BUY"
	SignalTypeSell SignalType = "SELL"
	SignalTypeHold SignalType = "HOLD"
)

// Signal records how a prediction was turned into a target position.
type Signal struct {
	Symbol          string     `json:"symbol"`
	Date            time.Time  `json:"date"`
	PredictedReturn float64    `json:"predicted_return"`
	ZScore          float64    `json:"z_score"`
	TargetPosition  float64    `json:"target_position"`
	Label           SignalType `json:"signal"`
	Confidence      float64    `json:"confidence"`
}

// ---------------------------------------------------------------------------
// Run configuration enums
// ---------------------------------------------------------------------------

// ModelType selects a predictive model variant.
type ModelType string

const (
	ModelLinear       ModelType = "linear"
	ModelRandomForest ModelType = "random_forest"
	ModelXGBoost      ModelType = "xgboost"
	ModelLSTM         ModelType = "lstm"
	ModelEnsemble     ModelType = "ensemble"
)

// ModelTypes lists every supported model variant.
var ModelTypes = []ModelType{ModelLinear, ModelRandomForest, ModelXGBoost, ModelLSTM, ModelEnsemble}

// ParseModelType converts a case-insensitive name into a ModelType.
func ParseModelType(s string) (ModelType, bool) {
	mt := ModelType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ModelTypes {
		if mt == known {
			return mt, true
		}
	}
	return "", false
}

// RebalanceFrequency controls how often targets are refreshed.
type RebalanceFrequency string

const (
	RebalanceDaily   RebalanceFrequency = "daily"
	RebalanceWeekly  RebalanceFrequency = "weekly"
	RebalanceMonthly RebalanceFrequency = "monthly"
)

// ParseRebalanceFrequency converts a case-insensitive name into a
// RebalanceFrequency. An empty string yields RebalanceDaily.
func ParseRebalanceFrequency(s string) (RebalanceFrequency, bool) {
	switch RebalanceFrequency(strings.ToLower(strings.TrimSpace(s))) {
	case "", RebalanceDaily:
		return RebalanceDaily, true
	case RebalanceWeekly:
		return RebalanceWeekly, true
	case RebalanceMonthly:
		return RebalanceMonthly, true
	}
	return "", false
}

// AssetClass groups catalog entries.
type AssetClass string

const (
	AssetClassEquity      AssetClass = "equity"
	AssetClassFixedIncome AssetClass = "fixed_income"
	AssetClassCrypto      AssetClass = "crypto"
	AssetClassCommodity   AssetClass = "commodity"
	AssetClassMacro       AssetClass = "macro"
)

// Asset is an entry in the tradable-universe catalog.
type Asset struct {
	Symbol   string     `json:"symbol" db:"symbol"`
	Name     string     `json:"name" db:"name"`
	Class    AssetClass `json:"asset_class" db:"asset_class"`
	Exchange string     `json:"exchange" db:"exchange"`
	Active   bool       `json:"active" db:"active"`
}

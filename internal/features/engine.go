// Package features derives a fixed-width, scale-free feature vector for
// every trading day of a symbol's bar history. Each value only uses bars
// dated at or before its own date.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"marketintel/internal/domain"
)

// Warmup is the number of leading bars without a complete feature vector.
const Warmup = 50

var featureNames = []string{
	"sma_5_ratio",
	"sma_10_ratio",
	"sma_20_ratio",
	"sma_50_ratio",
	"ema_12_26_ratio",
	"rsi_14",
	"macd",
	"macd_signal",
	"macd_hist",
	"bb_percent_b",
	"bb_width",
	"momentum_10",
	"roc_12",
	"atr_14_pct",
	"stoch_k",
	"stoch_d",
	"adx_14",
	"obv_flow_20",
	"return_1d",
	"return_5d",
	"return_20d",
	"volatility_20",
	"volume_ratio_20",
	"rel_strength_20",
	"corr_30",
}

// Engine computes technical and cross-asset features, plus the macro
// regime features when built by WithMacro. It is read-only after
// construction and safe for concurrent use.
type Engine struct {
	macro *Macro
}

// NewEngine creates a feature Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Names returns the feature names in vector order.
func (e *Engine) Names() []string {
	out := make([]string, len(featureNames), len(featureNames)+len(macroNames))
	copy(out, featureNames)
	if e.macro != nil {
		out = append(out, macroNames...)
	}
	return out
}

// Compute returns one FeatureVector per bar after the warm-up period.
// bars must belong to one symbol; they are sorted by date and bars with a
// non-positive close are skipped. reference is the benchmark history used
// for cross-asset features; when nil the symbol is its own reference.
func (e *Engine) Compute(bars []domain.Bar, reference []domain.Bar) ([]domain.FeatureVector, error) {
	bars = cleanBars(bars)
	if len(bars) == 0 {
		return nil, nil
	}
	symbol := bars[0].Symbol
	for _, b := range bars {
		if b.Symbol != symbol {
			return nil, fmt.Errorf("features: mixed symbols %s and %s", symbol, b.Symbol)
		}
	}

	n := len(bars)
	high, low, close, volume := columns(bars)

	refClose := alignReference(bars, cleanBars(reference))

	sma5, sma10, sma20, sma50 := SMA(close, 5), SMA(close, 10), SMA(close, 20), SMA(close, 50)
	ema12, ema26 := EMA(close, 12), EMA(close, 26)
	rsi := RSI(close, 14)
	macd, macdSig, macdHist := MACD(close, 12, 26, 9)
	pctB, bbWidth := Bollinger(close, 20, 2)
	mom10 := ChangeOver(close, 10)
	roc12 := ChangeOver(close, 12)
	atr := ATR(high, low, close, 14)
	stochK, stochD := Stochastic(high, low, close, 14, 3)
	adx := ADX(high, low, close, 14)
	obv := OBVFlow(close, volume, 20)
	ret1 := ChangeOver(close, 1)
	ret5 := ChangeOver(close, 5)
	ret20 := ChangeOver(close, 20)
	vol20 := RollingStd(ret1, 20)
	volSMA := SMA(volume, 20)
	refRet1 := ChangeOver(refClose, 1)
	refRet20 := ChangeOver(refClose, 20)
	corr30 := RollingCorrelation(ret1, refRet1, 30)
	var macro [][]float64
	if e.macro != nil {
		macro = e.macro.columns(bars)
	}

	out := make([]domain.FeatureVector, 0, max(n-Warmup+1, 0))
	for i := Warmup - 1; i < n; i++ {
		c := close[i]
		volRatio := 0.0
		if volSMA[i] > 0 {
			volRatio = volume[i]/volSMA[i] - 1
		}
		values := []float64{
			c/sma5[i] - 1,
			c/sma10[i] - 1,
			c/sma20[i] - 1,
			c/sma50[i] - 1,
			ema12[i]/ema26[i] - 1,
			rsi[i]/100 - 0.5,
			macd[i] / c,
			macdSig[i] / c,
			macdHist[i] / c,
			pctB[i],
			bbWidth[i],
			mom10[i],
			roc12[i],
			atr[i] / c,
			stochK[i],
			stochD[i],
			adx[i] / 100,
			obv[i],
			ret1[i],
			ret5[i],
			ret20[i],
			vol20[i],
			volRatio,
			ret20[i] - refRet20[i],
			corr30[i],
		}
		for _, col := range macro {
			values = append(values, col[i])
		}
		if !allFinite(values) {
			continue
		}
		out = append(out, domain.FeatureVector{
			Symbol: symbol,
			Date:   bars[i].Date(),
			Values: values,
		})
	}
	return out, nil
}

// cleanBars returns bars sorted by date with invalid closes and duplicate
// dates removed; the last bar for a date wins.
func cleanBars(bars []domain.Bar) []domain.Bar {
	if len(bars) == 0 {
		return nil
	}
	byDate := make(map[time.Time]domain.Bar, len(bars))
	for _, b := range bars {
		if !(b.Close > 0) || math.IsInf(b.Close, 0) {
			continue
		}
		byDate[b.Date()] = b
	}
	out := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func columns(bars []domain.Bar) (high, low, close, volume []float64) {
	n := len(bars)
	high = make([]float64, n)
	low = make([]float64, n)
	close = make([]float64, n)
	volume = make([]float64, n)
	for i, b := range bars {
		c := b.Close
		high[i] = math.Max(positiveOr(b.High, c), c)
		low[i] = math.Min(positiveOr(b.Low, c), c)
		close[i] = c
		volume[i] = math.Max(float64(b.Volume), 0)
	}
	return high, low, close, volume
}

// alignReference maps the reference closes onto the dates of bars, carrying
// the last known close forward. Without reference data the bars' own
// closes are used.
func alignReference(bars, reference []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	if len(reference) == 0 {
		for i, b := range bars {
			out[i] = b.Close
		}
		return out
	}
	j := 0
	last := math.NaN()
	for i, b := range bars {
		d := b.Date()
		for j < len(reference) && !reference[j].Date().After(d) {
			last = reference[j].Close
			j++
		}
		out[i] = last
	}
	return out
}

func positiveOr(v, fallback float64) float64 {
	if v > 0 && !math.IsInf(v, 0) {
		return v
	}
	return fallback
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

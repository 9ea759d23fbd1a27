package features

import (
	"math"

	"marketintel/internal/domain"
)

// Macro regime features read market-wide proxies rather than the symbol
// itself: a volatility index tracker and two treasury ETFs of different
// duration, whose relative performance stands in for the yield curve.
var macroNames = []string{
	"vol_index_z_50",
	"vol_index_change_5",
	"vol_regime",
	"curve_spread_20",
	"curve_spread_change_5",
}

// volRegimeZ is the z-score beyond which the volatility proxy counts as a
// high or low regime.
const volRegimeZ = 1.0

// Macro holds the proxy histories. Each is carried forward onto the
// symbol's dates.
type Macro struct {
	Volatility []domain.Bar // e.g. VIXY
	LongBond   []domain.Bar // e.g. TLT
	MidBond    []domain.Bar // e.g. IEF
}

// Complete reports whether every proxy has bars.
func (m Macro) Complete() bool {
	return len(m.Volatility) > 0 && len(m.LongBond) > 0 && len(m.MidBond) > 0
}

// WithMacro returns an Engine that appends the macro features to every
// vector. e is not modified.
func (e *Engine) WithMacro(m Macro) *Engine {
	return &Engine{macro: &Macro{
		Volatility: cleanBars(m.Volatility),
		LongBond:   cleanBars(m.LongBond),
		MidBond:    cleanBars(m.MidBond),
	}}
}

// MacroNames returns the names WithMacro appends, in vector order.
func MacroNames() []string {
	out := make([]string, len(macroNames))
	copy(out, macroNames)
	return out
}

// columns returns one series per macro feature aligned to bars. Each
// proxy's indicators run over its own history and are carried forward;
// dates before a proxy's indicators are defined are NaN, which drops those
// rows.
func (m *Macro) columns(bars []domain.Bar) [][]float64 {
	_, _, vix, _ := columns(m.Volatility)
	vixMean, vixStd := SMA(vix, Warmup), RollingStd(vix, Warmup)
	z := make([]float64, len(vix))
	regime := make([]float64, len(vix))
	for i := range vix {
		switch {
		case math.IsNaN(vixMean[i]) || math.IsNaN(vixStd[i]):
			z[i] = math.NaN()
		case vixStd[i] == 0:
			z[i] = 0
		default:
			z[i] = (vix[i] - vixMean[i]) / vixStd[i]
		}
		switch {
		case math.IsNaN(z[i]):
			regime[i] = math.NaN()
		case z[i] > volRegimeZ:
			regime[i] = 1
		case z[i] < -volRegimeZ:
			regime[i] = -1
		}
	}

	_, _, long, _ := columns(m.LongBond)
	_, _, mid, _ := columns(m.MidBond)
	longRet := alignProxy(bars, m.LongBond, ChangeOver(long, 20))
	midRet := alignProxy(bars, m.MidBond, ChangeOver(mid, 20))
	spread := make([]float64, len(bars))
	spreadChange := nanSeries(len(bars))
	for i := range bars {
		spread[i] = longRet[i] - midRet[i]
		if i >= 5 {
			spreadChange[i] = spread[i] - spread[i-5]
		}
	}

	return [][]float64{
		alignProxy(bars, m.Volatility, z),
		alignProxy(bars, m.Volatility, ChangeOver(vix, 5)),
		alignProxy(bars, m.Volatility, regime),
		spread,
		spreadChange,
	}
}

// alignProxy maps values, one per proxy bar, onto the dates of bars,
// carrying the last known value forward.
func alignProxy(bars, proxy []domain.Bar, values []float64) []float64 {
	out := nanSeries(len(bars))
	j := 0
	last := math.NaN()
	for i, b := range bars {
		d := b.Date()
		for j < len(proxy) && !proxy[j].Date().After(d) {
			last = values[j]
			j++
		}
		out[i] = last
	}
	return out
}

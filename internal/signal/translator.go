// Package signal turns continuous return predictions into target
// positions and discrete BUY/SELL/HOLD labels.
package signal

import (
	"math"

	"marketintel/internal/domain"
)

const (
	// BuyThreshold is the predicted return above which a signal is BUY.
	BuyThreshold = 0.02
	// SellThreshold is the predicted return below which a signal is SELL.
	SellThreshold = -0.02

	// DefaultWindow is the number of recent predictions per symbol used to
	// scale a new prediction.
	DefaultWindow = 20

	confidenceScale = 2.0
	minScale        = 1e-12
)

// Decision is the translated form of one prediction.
type Decision struct {
	TargetPosition float64
	ZScore         float64
	Confidence     float64
	Label          domain.SignalType
}

// Translate scales predicted against the dispersion of distribution and
// clamps the result to [-1, 1].
//
// The z-score is uncentred: predicted divided by the root mean square of
// the distribution. A model that persistently forecasts gains keeps a
// positive target instead of oscillating around the window mean. An empty
// distribution scales by |predicted| itself.
func Translate(predicted float64, distribution []float64) Decision {
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) {
		return Decision{Label: domain.SignalTypeHold}
	}

	scale := rms(distribution)
	if len(distribution) == 0 {
		scale = math.Abs(predicted)
	}

	var z float64
	if scale > minScale {
		z = predicted / scale
	}

	return Decision{
		TargetPosition: clamp(z, -1, 1),
		ZScore:         z,
		Confidence:     math.Min(math.Abs(z)/confidenceScale, 1),
		Label:          Label(predicted),
	}
}

// Label classifies a predicted return with the fixed ±2% thresholds.
func Label(predicted float64) domain.SignalType {
	switch {
	case predicted > BuyThreshold:
		return domain.SignalTypeBuy
	case predicted < SellThreshold:
		return domain.SignalTypeSell
	default:
		return domain.SignalTypeHold
	}
}

// Tracker keeps a rolling window of predictions per symbol. It is not safe
// for concurrent use; each backtest run owns its own Tracker.
type Tracker struct {
	window  int
	history map[string][]float64
}

// NewTracker creates a Tracker with the given window length. Non-positive
// values fall back to DefaultWindow.
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:  window,
		history: make(map[string][]float64),
	}
}

// Observe records predicted for symbol and translates it against the
// window that now includes it.
func (t *Tracker) Observe(symbol string, predicted float64) Decision {
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) {
		return Decision{Label: domain.SignalTypeHold}
	}
	h := append(t.history[symbol], predicted)
	if len(h) > t.window {
		h = h[len(h)-t.window:]
	}
	t.history[symbol] = h
	return Translate(predicted, h)
}

// History returns a copy of the recent predictions for symbol, oldest
// first.
func (t *Tracker) History(symbol string) []float64 {
	h := t.history[symbol]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

// Window returns the configured window length.
func (t *Tracker) Window() int { return t.window }

func rms(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		ss += x * x
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

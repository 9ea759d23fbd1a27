package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Rolling indicators over a price series. Each helper returns a slice the
// same length as its input with NaN where the lookback is incomplete.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average over n observations.
func SMA(x []float64, n int) []float64 {
	out := nanSeries(len(x))
	if n <= 0 {
		return out
	}
	var sum float64
	for i, v := range x {
		sum += v
		if i >= n {
			sum -= x[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA is the exponential moving average with span n, seeded with the first
// observation.
func EMA(x []float64, n int) []float64 {
	out := nanSeries(len(x))
	if len(x) == 0 || n <= 0 {
		return out
	}
	alpha := 2 / (float64(n) + 1)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = alpha*x[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RollingStd is the sample standard deviation over n observations.
func RollingStd(x []float64, n int) []float64 {
	out := nanSeries(len(x))
	if n < 2 {
		return out
	}
	for i := n - 1; i < len(x); i++ {
		out[i] = stat.StdDev(x[i-n+1:i+1], nil)
	}
	return out
}

// RSI is the relative strength index over n price changes using simple
// averages of gains and losses. A window without movement reads 50.
func RSI(close []float64, n int) []float64 {
	out := nanSeries(len(close))
	for i := n; i < len(close); i++ {
		var gain, loss float64
		for j := i - n + 1; j <= i; j++ {
			d := close[j] - close[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		switch {
		case gain == 0 && loss == 0:
			out[i] = 50
		case loss == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+gain/loss)
		}
	}
	return out
}

// MACD returns the MACD line (fast EMA - slow EMA), its signal EMA and
// the histogram.
func MACD(close []float64, fast, slow, signal int) (line, sig, hist []float64) {
	ef := EMA(close, fast)
	es := EMA(close, slow)
	line = make([]float64, len(close))
	for i := range close {
		line[i] = ef[i] - es[i]
	}
	sig = EMA(line, signal)
	hist = make([]float64, len(close))
	for i := range close {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// Bollinger returns %B and band width for an n-period band of k standard
// deviations. A flat window reads %B 0.5 and width 0.
func Bollinger(close []float64, n int, k float64) (percentB, width []float64) {
	mid := SMA(close, n)
	sd := RollingStd(close, n)
	percentB = nanSeries(len(close))
	width = nanSeries(len(close))
	for i := range close {
		if math.IsNaN(mid[i]) || math.IsNaN(sd[i]) {
			continue
		}
		upper := mid[i] + k*sd[i]
		lower := mid[i] - k*sd[i]
		if upper-lower < 1e-12 {
			percentB[i] = 0.5
			width[i] = 0
			continue
		}
		percentB[i] = (close[i] - lower) / (upper - lower)
		width[i] = (upper - lower) / mid[i]
	}
	return percentB, width
}

// ChangeOver is x[i]/x[i-n] - 1.
func ChangeOver(x []float64, n int) []float64 {
	out := nanSeries(len(x))
	for i := n; i < len(x); i++ {
		if x[i-n] != 0 {
			out[i] = x[i]/x[i-n] - 1
		} else {
			out[i] = 0
		}
	}
	return out
}

// TrueRange is the per-bar true range; the first bar uses high-low.
func TrueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(high[i]-close[i-1]))
			tr = math.Max(tr, math.Abs(low[i]-close[i-1]))
		}
		out[i] = tr
	}
	return out
}

// ATR is the simple average true range over n bars.
func ATR(high, low, close []float64, n int) []float64 {
	return SMA(TrueRange(high, low, close), n)
}

// Stochastic returns %K over n bars and %D, its d-bar average. A window
// with no range reads 0.5.
func Stochastic(high, low, close []float64, n, d int) (k, dline []float64) {
	k = nanSeries(len(close))
	for i := n - 1; i < len(close); i++ {
		hh, ll := high[i], low[i]
		for j := i - n + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh-ll < 1e-12 {
			k[i] = 0.5
		} else {
			k[i] = (close[i] - ll) / (hh - ll)
		}
	}
	dline = nanSeries(len(close))
	for i := n + d - 2; i < len(close); i++ {
		var sum float64
		for j := i - d + 1; j <= i; j++ {
			sum += k[j]
		}
		dline[i] = sum / float64(d)
	}
	return k, dline
}

// ADX is the average directional index over n bars, using simple rolling
// sums of directional movement and true range.
func ADX(high, low, close []float64, n int) []float64 {
	size := len(close)
	plusDM := make([]float64, size)
	minusDM := make([]float64, size)
	tr := TrueRange(high, low, close)
	for i := 1; i < size; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	dx := nanSeries(size)
	for i := n; i < size; i++ {
		var sp, sm, st float64
		for j := i - n + 1; j <= i; j++ {
			sp += plusDM[j]
			sm += minusDM[j]
			st += tr[j]
		}
		if st < 1e-12 {
			dx[i] = 0
			continue
		}
		pdi := 100 * sp / st
		mdi := 100 * sm / st
		if pdi+mdi < 1e-12 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}

	out := nanSeries(size)
	for i := 2*n - 1; i < size; i++ {
		var sum float64
		for j := i - n + 1; j <= i; j++ {
			sum += dx[j]
		}
		out[i] = sum / float64(n)
	}
	return out
}

// OBVFlow is the n-day change in on-balance volume divided by the volume
// traded over the same window, bounded to [-1, 1].
func OBVFlow(close, volume []float64, n int) []float64 {
	size := len(close)
	obv := make([]float64, size)
	for i := 1; i < size; i++ {
		switch {
		case close[i] > close[i-1]:
			obv[i] = obv[i-1] + volume[i]
		case close[i] < close[i-1]:
			obv[i] = obv[i-1] - volume[i]
		default:
			obv[i] = obv[i-1]
		}
	}
	out := nanSeries(size)
	for i := n; i < size; i++ {
		var vol float64
		for j := i - n + 1; j <= i; j++ {
			vol += volume[j]
		}
		if vol <= 0 {
			out[i] = 0
			continue
		}
		out[i] = (obv[i] - obv[i-n]) / vol
	}
	return out
}

// RollingCorrelation is the Pearson correlation of x and y over n
// observations; windows where either side is flat read 0.
func RollingCorrelation(x, y []float64, n int) []float64 {
	out := nanSeries(len(x))
	for i := n - 1; i < len(x); i++ {
		wx := x[i-n+1 : i+1]
		wy := y[i-n+1 : i+1]
		if hasNaN(wx) || hasNaN(wy) {
			continue
		}
		if stat.Variance(wx, nil) < 1e-18 || stat.Variance(wy, nil) < 1e-18 {
			out[i] = 0
			continue
		}
		out[i] = stat.Correlation(wx, wy, nil)
	}
	return out
}

func hasNaN(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

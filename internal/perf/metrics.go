// Package perf computes return and risk statistics over a daily equity
// curve. Every function is pure; near-zero denominators resolve to
// documented sentinels instead of NaN or errors.
package perf

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualisation convention.
const TradingDaysPerYear = 252

// epsilon is the threshold below which a denominator counts as zero.
const epsilon = 1e-12

// Metrics is the performance summary of one backtest run.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualReturn     float64 `json:"annual_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     Ratio   `json:"profit_factor"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	InformationRatio float64 `json:"information_ratio"`
	Days             int     `json:"days"`
	TotalTrades      int     `json:"total_trades"`
}

// Options tunes metric computation.
type Options struct {
	// RiskFreeRate is an annual rate subtracted from the mean daily return
	// in Sharpe and Sortino. Zero by default.
	RiskFreeRate float64
}

// Compute builds the full Metrics record. values[i] is the portfolio value
// after day i and returns[i] its day-over-day change; initial is the
// starting capital. benchmark must cover the same days as returns or be
// empty, in which case Alpha, Beta and InformationRatio stay zero.
func Compute(initial float64, values, returns, benchmark []float64, opts Options) Metrics {
	m := Metrics{Days: len(returns)}
	if len(values) > 0 {
		m.TotalReturn = TotalReturn(initial, values[len(values)-1])
	}
	m.AnnualReturn = AnnualReturn(m.TotalReturn, len(returns))
	m.Volatility = Volatility(returns)
	m.SharpeRatio = Sharpe(returns, opts.RiskFreeRate)
	m.SortinoRatio = Sortino(returns, opts.RiskFreeRate)
	m.MaxDrawdown = MaxDrawdown(initial, values)
	m.CalmarRatio = Calmar(m.AnnualReturn, m.MaxDrawdown)
	m.WinRate = WinRate(returns)
	m.ProfitFactor = ProfitFactor(returns)
	if len(benchmark) == len(returns) && len(returns) > 0 {
		m.Alpha, m.Beta = AlphaBeta(returns, benchmark)
		m.InformationRatio = InformationRatio(returns, benchmark)
	}
	return m
}

// Returns converts a value series into simple day-over-day returns, using
// initial as the value before the first day.
func Returns(initial float64, values []float64) []float64 {
	out := make([]float64, len(values))
	prev := initial
	for i, v := range values {
		if math.Abs(prev) > epsilon {
			out[i] = v/prev - 1
		}
		prev = v
	}
	return out
}

// TotalReturn is final/initial - 1, or 0 when initial is zero.
func TotalReturn(initial, final float64) float64 {
	if math.Abs(initial) < epsilon {
		return 0
	}
	return final/initial - 1
}

// AnnualReturn compounds total over n trading days to a 252-day year.
// A total loss of exactly -100% annualises to -1. Returns 0 for n == 0 and
// for a loss beyond -100%, where a short book leaves the power undefined.
func AnnualReturn(total float64, n int) float64 {
	switch {
	case n == 0 || total < -1:
		return 0
	case total == -1:
		return -1
	}
	return math.Pow(1+total, float64(TradingDaysPerYear)/float64(n)) - 1
}

// Volatility is the annualised sample standard deviation of returns.
// Fewer than two observations yield 0.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear)
}

// Sharpe is the annualised mean excess return over annualised volatility.
// Sentinel: 0 when volatility is zero.
func Sharpe(returns []float64, riskFreeRate float64) float64 {
	vol := Volatility(returns)
	if vol < epsilon {
		return 0
	}
	excess := stat.Mean(returns, nil) - riskFreeRate/TradingDaysPerYear
	return excess * TradingDaysPerYear / vol
}

// DownsideDeviation is the root mean square of the negative returns,
// measured against a zero target. It is 0 when no return is negative.
func DownsideDeviation(returns []float64) float64 {
	var sum float64
	n := 0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// Sortino is the annualised mean excess return over annualised downside
// deviation. Sentinel: 0 when there are no negative returns.
func Sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	dd := DownsideDeviation(returns)
	if dd < epsilon {
		return 0
	}
	excess := stat.Mean(returns, nil) - riskFreeRate/TradingDaysPerYear
	return excess * TradingDaysPerYear / (dd * math.Sqrt(TradingDaysPerYear))
}

// MaxDrawdown is the most negative value/running-peak - 1 over the series.
// Unlike a running peak over the values alone, initial seeds the peak, so
// costs paid on the first day already count as drawdown. Always <= 0.
func MaxDrawdown(initial float64, values []float64) float64 {
	peak := initial
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > epsilon {
			if dd := v/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// Calmar is annual return over the magnitude of max drawdown.
// Sentinel: 0 when there was no drawdown.
func Calmar(annualReturn, maxDrawdown float64) float64 {
	if math.Abs(maxDrawdown) < epsilon {
		return 0
	}
	return annualReturn / math.Abs(maxDrawdown)
}

// WinRate is the share of positive days among non-zero days.
// Sentinel: 0 when every return is zero.
func WinRate(returns []float64) float64 {
	wins, nonZero := 0, 0
	for _, r := range returns {
		if r != 0 {
			nonZero++
		}
		if r > 0 {
			wins++
		}
	}
	if nonZero == 0 {
		return 0
	}
	return float64(wins) / float64(nonZero)
}

// ProfitFactor is gross gains over gross losses of the return series.
// Sentinels: +Inf when there are gains but no losses, 0 when neither.
func ProfitFactor(returns []float64) Ratio {
	var gains, losses float64
	for _, r := range returns {
		if r > 0 {
			gains += r
		} else if r < 0 {
			losses -= r
		}
	}
	if losses < epsilon {
		if gains > 0 {
			return Ratio(math.Inf(1))
		}
		return 0
	}
	return Ratio(gains / losses)
}

// AlphaBeta regresses returns on benchmark. Beta is cov(r,b)/var(b) and
// alpha is the annualised intercept (mean(r) - beta*mean(b)) * 252.
// Sentinel: beta 0 when the benchmark has no variance.
func AlphaBeta(returns, benchmark []float64) (alpha, beta float64) {
	if len(returns) != len(benchmark) || len(returns) < 2 {
		return 0, 0
	}
	varB := stat.Variance(benchmark, nil)
	if varB > epsilon*epsilon {
		beta = stat.Covariance(returns, benchmark, nil) / varB
	}
	alpha = (stat.Mean(returns, nil) - beta*stat.Mean(benchmark, nil)) * TradingDaysPerYear
	return alpha, beta
}

// InformationRatio is the annualised mean active return over annualised
// tracking error. Sentinel: 0 when tracking error is zero.
func InformationRatio(returns, benchmark []float64) float64 {
	if len(returns) != len(benchmark) || len(returns) < 2 {
		return 0
	}
	active := make([]float64, len(returns))
	for i := range returns {
		active[i] = returns[i] - benchmark[i]
	}
	te := stat.StdDev(active, nil) * math.Sqrt(TradingDaysPerYear)
	if te < epsilon {
		return 0
	}
	return stat.Mean(active, nil) * TradingDaysPerYear / te
}

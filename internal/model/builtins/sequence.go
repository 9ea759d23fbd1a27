package builtins

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"marketintel/internal/model"
)

// Compile-time interface checks.
var (
	_ model.Sequential = (*Sequence)(nil)
	_ model.Explainer  = (*Sequence)(nil)
)

// Sequence is a recurrent model for one symbol's feature stream. It keeps
// two exponentially decaying hidden states over the standardised inputs, a
// fast one and a slow one spanning the lookback, and reads the prediction
// out of [x, h_fast, h_slow] with ridge regression.
//
// Rows passed to Fit and Predict must be consecutive days in date order.
// Predict advances the hidden state, so each call consumes one day.
type Sequence struct {
	lookback int
	alpha    float64
	fast     float64
	slow     float64

	sc        scaler
	coef      []float64
	intercept float64
	hFast     []float64
	hSlow     []float64
}

// NewSequence creates a sequence model; lookback <= 1 uses 20.
func NewSequence(lookback int, alpha float64) *Sequence {
	if lookback <= 1 {
		lookback = 20
	}
	if alpha <= 0 {
		alpha = 1
	}
	fastSpan := max(lookback/4, 2)
	return &Sequence{
		lookback: lookback,
		alpha:    alpha,
		fast:     1 - 2/(float64(fastSpan)+1),
		slow:     1 - 2/(float64(lookback)+1),
	}
}

// Name returns "lstm".
func (s *Sequence) Name() string { return "lstm" }

// Lookback returns the number of leading rows used to warm the state.
func (s *Sequence) Lookback() int { return s.lookback }

// Reset zeroes the hidden state.
func (s *Sequence) Reset() {
	for j := range s.hFast {
		s.hFast[j] = 0
		s.hSlow[j] = 0
	}
}

// Fit runs the recurrence over X and fits the readout on every row after
// the first lookback rows. The hidden state is left at the last row.
func (s *Sequence) Fit(X [][]float64, y []float64) error {
	s.coef = nil
	cols, err := model.CheckTrainingSet(X, y)
	if err != nil {
		return err
	}
	if len(X) <= s.lookback {
		return fmt.Errorf("lstm: need more than %d rows, got %d", s.lookback, len(X))
	}

	s.sc = fitScaler(X)
	s.hFast = make([]float64, cols)
	s.hSlow = make([]float64, cols)

	inputs := make([][]float64, 0, len(X)-s.lookback)
	targets := make([]float64, 0, len(X)-s.lookback)
	for i, row := range X {
		in := s.step(row)
		if i < s.lookback {
			continue
		}
		inputs = append(inputs, in)
		targets = append(targets, y[i])
	}

	mean := stat.Mean(targets, nil)
	for i := range targets {
		targets[i] -= mean
	}
	coef, err := ridgeSolve(inputs, targets, s.alpha)
	if err != nil {
		return err
	}
	s.coef = coef
	s.intercept = mean
	return nil
}

// Predict advances the hidden state with x and returns the readout.
func (s *Sequence) Predict(x []float64) (float64, error) {
	if s.coef == nil {
		return 0, model.ErrNotFitted
	}
	if len(x) != len(s.hFast) {
		return 0, fmt.Errorf("lstm: got %d features, want %d", len(x), len(s.hFast))
	}
	in := s.step(x)
	out := s.intercept
	for j, c := range s.coef {
		out += c * in[j]
	}
	return out, nil
}

// FeatureImportance sums the absolute readout weights that touch each
// input column.
func (s *Sequence) FeatureImportance() []float64 {
	cols := len(s.hFast)
	out := make([]float64, cols)
	for j, c := range s.coef {
		if c < 0 {
			c = -c
		}
		out[j%cols] += c
	}
	return normalize(out)
}

// step updates the hidden states and returns the readout input.
func (s *Sequence) step(x []float64) []float64 {
	z := s.sc.transform(x)
	for j, v := range z {
		s.hFast[j] = s.fast*s.hFast[j] + (1-s.fast)*v
		s.hSlow[j] = s.slow*s.hSlow[j] + (1-s.slow)*v
	}
	in := make([]float64, 0, 3*len(z))
	in = append(in, z...)
	in = append(in, s.hFast...)
	in = append(in, s.hSlow...)
	return in
}

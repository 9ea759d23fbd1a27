package builtins

import (
	"fmt"

	"marketintel/internal/model"
)

// Compile-time interface checks.
var (
	_ model.Model     = (*Ensemble)(nil)
	_ model.Explainer = (*Ensemble)(nil)
)

const (
	holdoutFraction = 0.2
	minHoldoutRows  = 10
)

// Ensemble stacks base models under a ridge meta-model. The meta-model is
// fit on base predictions over the most recent slice of the training rows;
// the bases are then refit on all rows. With too few rows for a hold-out
// slice the bases are averaged.
type Ensemble struct {
	bases    []model.Model
	meta     *Linear
	averaged bool
	cols     int
}

// NewEnsemble stacks the given base models.
func NewEnsemble(meta *Linear, bases ...model.Model) *Ensemble {
	if meta == nil {
		meta = NewLinear(1)
	}
	return &Ensemble{bases: bases, meta: meta}
}

// Name returns "ensemble".
func (e *Ensemble) Name() string { return "ensemble" }

// Fit trains the meta-model on a time-ordered hold-out and refits the
// bases on the full set.
func (e *Ensemble) Fit(X [][]float64, y []float64) error {
	e.cols = 0
	cols, err := model.CheckTrainingSet(X, y)
	if err != nil {
		return err
	}
	if len(e.bases) == 0 {
		return fmt.Errorf("ensemble: no base models")
	}

	n := len(X)
	split := n - int(float64(n)*holdoutFraction)
	e.averaged = n-split < minHoldoutRows || split < minHoldoutRows

	if !e.averaged {
		for _, b := range e.bases {
			if err := b.Fit(X[:split], y[:split]); err != nil {
				return fmt.Errorf("ensemble: fit %s: %w", b.Name(), err)
			}
		}
		stacked := make([][]float64, 0, n-split)
		for _, row := range X[split:] {
			p, err := e.basePredictions(row)
			if err != nil {
				return err
			}
			stacked = append(stacked, p)
		}
		if err := e.meta.Fit(stacked, y[split:]); err != nil {
			return fmt.Errorf("ensemble: fit meta: %w", err)
		}
	}

	for _, b := range e.bases {
		if err := b.Fit(X, y); err != nil {
			return fmt.Errorf("ensemble: fit %s: %w", b.Name(), err)
		}
	}
	e.cols = cols
	return nil
}

// Predict combines the base predictions.
func (e *Ensemble) Predict(x []float64) (float64, error) {
	if e.cols == 0 {
		return 0, model.ErrNotFitted
	}
	p, err := e.basePredictions(x)
	if err != nil {
		return 0, err
	}
	if e.averaged {
		var sum float64
		for _, v := range p {
			sum += v
		}
		return sum / float64(len(p)), nil
	}
	return e.meta.Predict(p)
}

// FeatureImportance averages the importances of explainable bases.
func (e *Ensemble) FeatureImportance() []float64 {
	out := make([]float64, e.cols)
	for _, b := range e.bases {
		ex, ok := b.(model.Explainer)
		if !ok {
			continue
		}
		for j, v := range ex.FeatureImportance() {
			if j < len(out) {
				out[j] += v
			}
		}
	}
	return normalize(out)
}

// Averaged reports whether the last Fit fell back to a plain average.
func (e *Ensemble) Averaged() bool { return e.averaged }

func (e *Ensemble) basePredictions(x []float64) ([]float64, error) {
	out := make([]float64, len(e.bases))
	for i, b := range e.bases {
		v, err := b.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("ensemble: predict %s: %w", b.Name(), err)
		}
		out[i] = v
	}
	return out, nil
}

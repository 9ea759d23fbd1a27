// Package model defines the Model interface implemented by every
// predictive model variant and provides a Registry for selecting a variant
// by configuration.
package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"marketintel/internal/domain"
)

// ErrNotFitted is returned by Predict before a successful Fit.
var ErrNotFitted = errors.New("model: not fitted")

// Model is the interface that all predictive models must implement. A
// Model instance belongs to a single backtest run.
type Model interface {
	// Name returns the variant identifier.
	Name() string

	// Fit trains the model on rows of X (ordered oldest first) against the
	// targets y. Calling Fit again discards previous state.
	Fit(X [][]float64, y []float64) error

	// Predict returns the expected return for one feature row. Sequence
	// models may update their own internal state.
	Predict(x []float64) (float64, error)
}

// Sequential is implemented by models whose Predict consumes one day of a
// single symbol's feature stream. Callers feed such models every day in
// order, including days whose prediction they discard.
type Sequential interface {
	Model
	Lookback() int
	// Reset returns the state to where Fit started, keeping the fitted
	// weights. Replaying the training rows then reproduces the state Fit
	// left behind.
	Reset()
}

// Explainer is implemented by models that can rank their inputs.
type Explainer interface {
	// FeatureImportance returns one non-negative weight per input column,
	// summing to 1 when any column contributed.
	FeatureImportance() []float64
}

// Factory creates a fresh, unfitted Model seeded with seed.
type Factory func(seed int64) Model

// Registry maps model types to factories.
type Registry struct {
	factories map[domain.ModelType]Factory
}

// NewRegistry creates an empty model Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.ModelType]Factory),
	}
}

// Register adds a factory for the given model type, replacing any
// previous registration.
func (r *Registry) Register(mt domain.ModelType, f Factory) {
	r.factories[mt] = f
}

// New creates a fresh model of the given type.
func (r *Registry) New(mt domain.ModelType, seed int64) (Model, error) {
	f, ok := r.factories[mt]
	if !ok {
		return nil, fmt.Errorf("model: unknown type %q", mt)
	}
	return f(seed), nil
}

// Has reports whether a factory is registered for mt.
func (r *Registry) Has(mt domain.ModelType) bool {
	_, ok := r.factories[mt]
	return ok
}

// List returns a sorted slice of all registered model types.
func (r *Registry) List() []domain.ModelType {
	types := make([]domain.ModelType, 0, len(r.factories))
	for mt := range r.factories {
		types = append(types, mt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// CheckTrainingSet validates the shape of a training set and rejects
// non-finite values.
func CheckTrainingSet(X [][]float64, y []float64) (cols int, err error) {
	if len(X) == 0 {
		return 0, errors.New("model: empty training set")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("model: %d rows but %d targets", len(X), len(y))
	}
	cols = len(X[0])
	if cols == 0 {
		return 0, errors.New("model: rows have no features")
	}
	for i, row := range X {
		if len(row) != cols {
			return 0, fmt.Errorf("model: row %d has %d features, want %d", i, len(row), cols)
		}
		if !finite(y[i]) {
			return 0, fmt.Errorf("model: target %d is not finite", i)
		}
		for _, v := range row {
			if !finite(v) {
				return 0, fmt.Errorf("model: row %d has a non-finite feature", i)
			}
		}
	}
	return cols, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

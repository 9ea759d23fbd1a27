// Package builtins provides the model variants that ship with marketintel:
// ridge regression, a random forest, gradient-boosted trees, a recurrent
// sequence model and a stacked ensemble.
package builtins

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"marketintel/internal/model"
)

// Compile-time interface checks.
var (
	_ model.Model     = (*Linear)(nil)
	_ model.Explainer = (*Linear)(nil)
)

// Linear is ridge regression on standardised features.
type Linear struct {
	alpha     float64
	sc        scaler
	coef      []float64
	intercept float64
}

// NewLinear creates a ridge model with L2 penalty alpha; alpha <= 0 uses 1.
func NewLinear(alpha float64) *Linear {
	if alpha <= 0 {
		alpha = 1
	}
	return &Linear{alpha: alpha}
}

// Name returns "linear".
func (l *Linear) Name() string { return "linear" }

// Fit solves the ridge normal equations.
func (l *Linear) Fit(X [][]float64, y []float64) error {
	l.coef = nil
	if _, err := model.CheckTrainingSet(X, y); err != nil {
		return err
	}
	l.sc = fitScaler(X)
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = l.sc.transform(row)
	}
	mean := stat.Mean(y, nil)
	centred := make([]float64, len(y))
	for i, v := range y {
		centred[i] = v - mean
	}
	coef, err := ridgeSolve(Z, centred, l.alpha)
	if err != nil {
		return err
	}
	l.coef = coef
	l.intercept = mean
	return nil
}

// Predict returns the fitted linear response for x.
func (l *Linear) Predict(x []float64) (float64, error) {
	if l.coef == nil {
		return 0, model.ErrNotFitted
	}
	if len(x) != len(l.coef) {
		return 0, fmt.Errorf("linear: got %d features, want %d", len(x), len(l.coef))
	}
	z := l.sc.transform(x)
	out := l.intercept
	for j, c := range l.coef {
		out += c * z[j]
	}
	return out, nil
}

// FeatureImportance is the normalised absolute standardised coefficient.
func (l *Linear) FeatureImportance() []float64 {
	out := make([]float64, len(l.coef))
	for j, c := range l.coef {
		out[j] = math.Abs(c)
	}
	return normalize(out)
}

// ---------------------------------------------------------------------------
// Shared numerics
// ---------------------------------------------------------------------------

// scaler standardises columns to zero mean and unit variance. Constant
// columns keep a scale of 1.
type scaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(X [][]float64) scaler {
	cols := len(X[0])
	sc := scaler{mean: make([]float64, cols), scale: make([]float64, cols)}
	col := make([]float64, len(X))
	for j := 0; j < cols; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		m, sd := stat.MeanStdDev(col, nil)
		sc.mean[j] = m
		if math.IsNaN(sd) || sd < 1e-12 {
			sd = 1
		}
		sc.scale[j] = sd
	}
	return sc
}

func (s scaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.mean[j]) / s.scale[j]
	}
	return out
}

// ridgeSolve returns beta minimising |y - Z beta|^2 + alpha |beta|^2.
func ridgeSolve(Z [][]float64, y []float64, alpha float64) ([]float64, error) {
	n, p := len(Z), len(Z[0])
	data := make([]float64, 0, n*p)
	for _, row := range Z {
		data = append(data, row...)
	}
	A := mat.NewDense(n, p, data)

	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, A.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(A.T(), mat.NewVecDense(n, y))

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, errors.New("ridge: normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return nil, fmt.Errorf("ridge: %w", err)
	}
	out := make([]float64, p)
	for j := range out {
		out[j] = beta.AtVec(j)
	}
	return out, nil
}

// normalize scales xs in place to sum to 1 when the sum is positive.
func normalize(xs []float64) []float64 {
	var sum float64
	for _, v := range xs {
		sum += v
	}
	if sum <= 0 {
		return xs
	}
	for i := range xs {
		xs[i] /= sum
	}
	return xs
}

package builtins

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"marketintel/internal/model"
)

// Compile-time interface checks.
var (
	_ model.Model     = (*GradientBoosting)(nil)
	_ model.Explainer = (*GradientBoosting)(nil)
)

// GradientBoosting fits shallow regression trees to squared-error
// residuals, shrinking each by the learning rate. Leaf values carry an L2
// penalty.
type GradientBoosting struct {
	rounds       int
	maxDepth     int
	learningRate float64
	lambda       float64
	seed         int64

	base       float64
	trees      []*regressionTree
	importance []float64
}

// NewGradientBoosting creates a boosted ensemble.
func NewGradientBoosting(rounds, maxDepth int, learningRate, lambda float64, seed int64) *GradientBoosting {
	if learningRate <= 0 {
		learningRate = 0.01
	}
	if lambda < 0 {
		lambda = 0
	}
	return &GradientBoosting{
		rounds:       max(rounds, 1),
		maxDepth:     max(maxDepth, 1),
		learningRate: learningRate,
		lambda:       lambda,
		seed:         seed,
	}
}

// Name returns "xgboost".
func (g *GradientBoosting) Name() string { return "xgboost" }

// Fit runs the boosting rounds.
func (g *GradientBoosting) Fit(X [][]float64, y []float64) error {
	g.trees = nil
	cols, err := model.CheckTrainingSet(X, y)
	if err != nil {
		return err
	}
	p := treeParams{maxDepth: g.maxDepth, minSplit: 2, lambda: g.lambda}
	rng := rand.New(rand.NewSource(g.seed))
	g.importance = make([]float64, cols)

	n := len(X)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	g.base = stat.Mean(y, nil)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = g.base
	}
	resid := make([]float64, n)

	trees := make([]*regressionTree, 0, g.rounds)
	for r := 0; r < g.rounds; r++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}
		t := growTree(X, resid, idx, p, rng, g.importance)
		for i, row := range X {
			pred[i] += g.learningRate * t.predict(row)
		}
		trees = append(trees, t)
	}
	g.trees = trees
	return nil
}

// Predict sums the shrunken tree outputs on top of the base score.
func (g *GradientBoosting) Predict(x []float64) (float64, error) {
	if g.trees == nil {
		return 0, model.ErrNotFitted
	}
	if len(x) != len(g.importance) {
		return 0, fmt.Errorf("xgboost: got %d features, want %d", len(x), len(g.importance))
	}
	out := g.base
	for _, t := range g.trees {
		out += g.learningRate * t.predict(x)
	}
	return out, nil
}

// FeatureImportance is the normalised total split gain per column.
func (g *GradientBoosting) FeatureImportance() []float64 {
	out := make([]float64, len(g.importance))
	copy(out, g.importance)
	return normalize(out)
}

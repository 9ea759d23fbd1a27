package builtins

import (
	"fmt"
	"math"
	"math/rand"

	"marketintel/internal/model"
)

// Compile-time interface checks.
var (
	_ model.Model     = (*RandomForest)(nil)
	_ model.Explainer = (*RandomForest)(nil)
)

// RandomForest averages bootstrapped CART trees that each consider a
// random sqrt-sized subset of columns at every split.
type RandomForest struct {
	trees      int
	maxDepth   int
	minSplit   int
	seed       int64
	forest     []*regressionTree
	importance []float64
}

// NewRandomForest creates a forest of the given size.
func NewRandomForest(trees, maxDepth, minSplit int, seed int64) *RandomForest {
	return &RandomForest{
		trees:    max(trees, 1),
		maxDepth: max(maxDepth, 1),
		minSplit: max(minSplit, 2),
		seed:     seed,
	}
}

// Name returns "random_forest".
func (f *RandomForest) Name() string { return "random_forest" }

// Fit grows every tree on its own bootstrap sample.
func (f *RandomForest) Fit(X [][]float64, y []float64) error {
	f.forest = nil
	cols, err := model.CheckTrainingSet(X, y)
	if err != nil {
		return err
	}
	p := treeParams{
		maxDepth:    f.maxDepth,
		minSplit:    f.minSplit,
		maxFeatures: max(1, int(math.Sqrt(float64(cols)))),
	}
	rng := rand.New(rand.NewSource(f.seed))
	f.importance = make([]float64, cols)

	n := len(X)
	forest := make([]*regressionTree, 0, f.trees)
	for t := 0; t < f.trees; t++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		forest = append(forest, growTree(X, y, idx, p, rng, f.importance))
	}
	f.forest = forest
	return nil
}

// Predict averages the trees' predictions.
func (f *RandomForest) Predict(x []float64) (float64, error) {
	if f.forest == nil {
		return 0, model.ErrNotFitted
	}
	if len(x) != len(f.importance) {
		return 0, fmt.Errorf("random_forest: got %d features, want %d", len(x), len(f.importance))
	}
	var sum float64
	for _, t := range f.forest {
		sum += t.predict(x)
	}
	return sum / float64(len(f.forest)), nil
}

// FeatureImportance is the normalised total split gain per column.
func (f *RandomForest) FeatureImportance() []float64 {
	out := make([]float64, len(f.importance))
	copy(out, f.importance)
	return normalize(out)
}

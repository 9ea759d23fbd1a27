package builtins

import (
	"math/rand"
	"sort"
)

// treeParams controls the growth of one regression tree.
type treeParams struct {
	maxDepth    int
	minSplit    int
	maxFeatures int     // columns considered per split; <= 0 means all
	lambda      float64 // L2 penalty on leaf values
}

// treeNode is a split when left >= 0 and a leaf otherwise.
type treeNode struct {
	feature     int
	threshold   float64
	left, right int
	value       float64
}

// regressionTree is a CART tree stored as a flat node slice rooted at 0.
type regressionTree struct {
	nodes []treeNode
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for t.nodes[i].left >= 0 {
		n := t.nodes[i]
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

type treeBuilder struct {
	X          [][]float64
	y          []float64
	cols       int
	params     treeParams
	rng        *rand.Rand
	importance []float64
	tree       *regressionTree
}

// growTree fits a tree on the rows listed in idx (repeats allowed) and
// adds each split's gain to importance.
func growTree(X [][]float64, y []float64, idx []int, p treeParams, rng *rand.Rand, importance []float64) *regressionTree {
	b := &treeBuilder{
		X:          X,
		y:          y,
		cols:       len(X[0]),
		params:     p,
		rng:        rng,
		importance: importance,
		tree:       &regressionTree{},
	}
	b.grow(idx, 0)
	return b.tree
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	pos := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, treeNode{
		left:  -1,
		right: -1,
		value: sum / (float64(len(idx)) + b.params.lambda),
	})
	if depth >= b.params.maxDepth || len(idx) < b.params.minSplit {
		return pos
	}

	feature, threshold, gain, ok := b.bestSplit(idx, sum)
	if !ok || gain <= 1e-12 {
		return pos
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return pos
	}
	b.importance[feature] += gain

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.nodes[pos].feature = feature
	b.tree.nodes[pos].threshold = threshold
	b.tree.nodes[pos].left = l
	b.tree.nodes[pos].right = r
	return pos
}

// bestSplit scans candidate columns for the threshold with the largest
// reduction in regularised squared error.
func (b *treeBuilder) bestSplit(idx []int, total float64) (feature int, threshold, gain float64, ok bool) {
	lambda := b.params.lambda
	n := float64(len(idx))
	parent := total * total / (n + lambda)

	sorted := make([]int, len(idx))
	for _, f := range b.candidates() {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool {
			xa, xc := b.X[sorted[a]][f], b.X[sorted[c]][f]
			if xa != xc {
				return xa < xc
			}
			return sorted[a] < sorted[c]
		})

		var left float64
		for k := 0; k < len(sorted)-1; k++ {
			left += b.y[sorted[k]]
			v, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if v == next {
				continue
			}
			nl := float64(k + 1)
			right := total - left
			g := left*left/(nl+lambda) + right*right/(n-nl+lambda) - parent
			if g > gain {
				gain = g
				feature = f
				threshold = v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
				ok = true
			}
		}
	}
	return feature, threshold, gain, ok
}

func (b *treeBuilder) candidates() []int {
	m := b.params.maxFeatures
	if m <= 0 || m >= b.cols {
		all := make([]int, b.cols)
		for j := range all {
			all[j] = j
		}
		return all
	}
	picked := b.rng.Perm(b.cols)[:m]
	sort.Ints(picked)
	return picked
}

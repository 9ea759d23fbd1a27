package portfolio

import (
	"math"
	"sort"
)

// Allocator converts per-symbol target positions in [-1, 1] into portfolio
// weights. Each symbol receives an equal share of capital unless a weight
// override is configured; single positions are capped at maxPositionPct
// and the gross allocation never exceeds 1.
type Allocator struct {
	maxPositionPct float64
	weights        map[string]float64
}

// NewAllocator creates an Allocator.
//
//   - maxPositionPct: maximum absolute fraction of equity in one symbol
//     (e.g. 0.25 for 25%); values outside (0, 1] mean no per-symbol cap.
//   - weights: optional per-symbol capital shares overriding equal weight.
func NewAllocator(maxPositionPct float64, weights map[string]float64) *Allocator {
	if maxPositionPct <= 0 || maxPositionPct > 1 {
		maxPositionPct = 1
	}
	w := make(map[string]float64, len(weights))
	for sym, v := range weights {
		w[sym] = math.Abs(v)
	}
	return &Allocator{maxPositionPct: maxPositionPct, weights: w}
}

// Weight returns the capital share of symbol within a universe of n symbols.
func (a *Allocator) Weight(symbol string, n int) float64 {
	if w, ok := a.weights[symbol]; ok {
		return w
	}
	if n <= 0 {
		return 0
	}
	return 1 / float64(n)
}

// Allocate scales targets by each symbol's weight within universe, applies
// the per-position cap, and clamps the gross exposure to 1. Symbols in
// targets that are not part of universe are ignored.
func (a *Allocator) Allocate(targets map[string]float64, universe []string) map[string]float64 {
	out := make(map[string]float64, len(targets))
	for _, sym := range universe {
		t, ok := targets[sym]
		if !ok {
			continue
		}
		w := t * a.Weight(sym, len(universe))
		out[sym] = math.Max(-a.maxPositionPct, math.Min(a.maxPositionPct, w))
	}
	return Clamp(out, 1.0)
}

// Clamp scales allocations proportionally so that the sum of absolute
// values does not exceed maxGross. The input map is not modified.
func Clamp(allocations map[string]float64, maxGross float64) map[string]float64 {
	gross := GrossExposure(allocations)
	scale := 1.0
	if gross > maxGross && gross > 0 {
		scale = maxGross / gross
	}

	out := make(map[string]float64, len(allocations))
	for sym, w := range allocations {
		out[sym] = w * scale
	}
	return out
}

// GrossExposure returns the sum of absolute allocations.
func GrossExposure(allocations map[string]float64) float64 {
	syms := make([]string, 0, len(allocations))
	for sym := range allocations {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	var gross float64
	for _, sym := range syms {
		gross += math.Abs(allocations[sym])
	}
	return gross
}

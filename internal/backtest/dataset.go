package backtest

import (
	"fmt"
	"sort"
	"time"

	"marketintel/internal/domain"
)

// FeatureEngine turns one symbol's bars into dated feature vectors using
// only data at or before each date. reference is the benchmark history.
type FeatureEngine interface {
	Names() []string
	Compute(bars, reference []domain.Bar) ([]domain.FeatureVector, error)
}

// sample is one feature row with its forward-return target.
type sample struct {
	date      time.Time
	values    []float64
	target    float64
	realized  time.Time // date of the bar that settles the target
	hasTarget bool
}

// series holds everything the walk-forward loop needs about one symbol.
type series struct {
	symbol  string
	samples []sample
	byDate  map[time.Time]int
	closes  map[time.Time]float64 // valid closes only
}

func buildSeries(symbol string, bars, reference []domain.Bar, fe FeatureEngine, horizon int) (*series, error) {
	s := &series{
		symbol: symbol,
		byDate: make(map[time.Time]int),
		closes: make(map[time.Time]float64),
	}

	var valid []domain.Bar
	for _, b := range bars {
		if b.Close > 0 {
			valid = append(valid, b)
			s.closes[b.Date()] = b.Close
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Timestamp.Before(valid[j].Timestamp) })
	pos := make(map[time.Time]int, len(valid))
	for i, b := range valid {
		pos[b.Date()] = i
	}

	vecs, err := fe.Compute(valid, reference)
	if err != nil {
		return nil, fmt.Errorf("features for %s: %w", symbol, err)
	}
	for _, v := range vecs {
		k, ok := pos[v.Date]
		if !ok {
			continue
		}
		smp := sample{date: v.Date, values: v.Values}
		if k+horizon < len(valid) {
			smp.target = valid[k+horizon].Close/valid[k].Close - 1
			smp.realized = valid[k+horizon].Date()
			smp.hasTarget = true
		}
		s.byDate[v.Date] = len(s.samples)
		s.samples = append(s.samples, smp)
	}
	return s, nil
}

// trainingSet returns the rows whose target settled strictly before
// boundary and, unless expanding, whose date is on or after from.
func (s *series) trainingSet(from, boundary time.Time, expanding bool) (X [][]float64, y []float64, first, last time.Time) {
	for _, smp := range s.samples {
		if !smp.hasTarget || !smp.realized.Before(boundary) {
			continue
		}
		if !expanding && smp.date.Before(from) {
			continue
		}
		if len(X) == 0 {
			first = smp.date
		}
		last = smp.date
		X = append(X, smp.values)
		y = append(y, smp.target)
	}
	return X, y, first, last
}

// between returns the feature rows dated in (after, before).
func (s *series) between(after, before time.Time) [][]float64 {
	var out [][]float64
	for _, smp := range s.samples {
		if smp.date.After(after) && smp.date.Before(before) {
			out = append(out, smp.values)
		}
	}
	return out
}

// features returns the feature row for date, if any.
func (s *series) features(date time.Time) ([]float64, bool) {
	i, ok := s.byDate[date]
	if !ok {
		return nil, false
	}
	return s.samples[i].values, true
}

// closeOn returns the valid close on date, if any.
func (s *series) closeOn(date time.Time) (float64, bool) {
	c, ok := s.closes[date]
	return c, ok
}

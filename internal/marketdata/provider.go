// Package marketdata supplies daily OHLCV bars to the backtester. Providers
// can be stacked: an upstream API, a local read-through cache, and a
// resilience wrapper that rate-limits, retries and trips a breaker.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketintel/internal/domain"
)

// DefaultPrefetchConcurrency bounds concurrent fetches in Prefetch.
const DefaultPrefetchConcurrency = 4

// Provider returns daily bars for one symbol within [start, end]. An
// unknown symbol yields no bars and no error.
type Provider interface {
	Name() string
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Prefetch fetches every symbol concurrently and returns normalised bars
// keyed by upper-case symbol. The first failure cancels the remaining
// fetches.
func Prefetch(ctx context.Context, p Provider, symbols []string, start, end time.Time, concurrency int) (map[string][]domain.Bar, error) {
	if concurrency <= 0 {
		concurrency = DefaultPrefetchConcurrency
	}

	var mu sync.Mutex
	out := make(map[string][]domain.Bar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, sym := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(sym))
		g.Go(func() error {
			bars, err := p.FetchBars(gctx, sym, start, end)
			if err != nil {
				return fmt.Errorf("fetching %s from %s: %w", sym, p.Name(), err)
			}
			bars = Normalize(sym, bars)
			mu.Lock()
			out[sym] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize returns a copy of bars stamped with symbol (upper-cased),
// ordered by date with one bar per date; the last bar for a date wins.
func Normalize(symbol string, bars []domain.Bar) []domain.Bar {
	symbol = strings.ToUpper(symbol)
	byDate := make(map[time.Time]int, len(bars))
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		b.Symbol = symbol
		b.Timestamp = b.Timestamp.UTC()
		d := b.Date()
		if i, ok := byDate[d]; ok {
			out[i] = b
			continue
		}
		byDate[d] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// inRange reports whether bar b falls on a date within [start, end].
func inRange(b domain.Bar, start, end time.Time) bool {
	d := b.Date()
	return !d.Before(domain.DateOf(start)) && !d.After(domain.DateOf(end))
}

package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketintel/internal/domain"
	"marketintel/internal/store"
)

// Compile-time interface check.
var _ Provider = (*StoreProvider)(nil)

// coverageSlack is how far stored bars may fall short of the requested
// edges (weekends and holidays) before upstream is consulted.
const coverageSlack = 5 * 24 * time.Hour

// StoreProvider serves bars from a BarStore and falls back to an upstream
// provider when the stored range does not cover the request. Upstream
// results are written back to the store.
type StoreProvider struct {
	store    store.BarStore
	upstream Provider
	now      func() time.Time
	log      zerolog.Logger
}

// NewStoreProvider creates a read-through cache over s. upstream may be nil
// for an offline, store-only provider.
func NewStoreProvider(s store.BarStore, upstream Provider, log zerolog.Logger) *StoreProvider {
	return &StoreProvider{
		store:    s,
		upstream: upstream,
		now:      time.Now,
		log:      log.With().Str("component", "marketdata").Str("provider", "store").Logger(),
	}
}

// Name returns "store" or "store+<upstream>".
func (p *StoreProvider) Name() string {
	if p.upstream == nil {
		return "store"
	}
	return "store+" + p.upstream.Name()
}

// FetchBars returns stored bars when they cover [start, end]; otherwise
// it fetches the range upstream and caches it.
func (p *StoreProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	stored, err := p.store.ReadBars(ctx, symbol, domain.DateOf(start), domain.DateOf(end).Add(24*time.Hour-time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("reading %s from store: %w", symbol, err)
	}
	stored = Normalize(symbol, stored)
	if p.upstream == nil || p.covers(stored, start, end) {
		return stored, nil
	}

	fresh, err := p.upstream.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	fresh = Normalize(symbol, fresh)
	if len(fresh) > 0 {
		if err := p.store.WriteBars(ctx, fresh); err != nil {
			// The fetched bars are still usable.
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("caching bars failed")
		}
	}
	p.log.Debug().Str("symbol", symbol).Int("stored", len(stored)).Int("fetched", len(fresh)).Msg("store miss")
	return Normalize(symbol, append(stored, fresh...)), nil
}

func (p *StoreProvider) covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	if bars[0].Date().Sub(domain.DateOf(start)) > coverageSlack {
		return false
	}
	last := domain.DateOf(end)
	if today := domain.DateOf(p.now()); last.After(today) {
		last = today
	}
	return last.Sub(bars[len(bars)-1].Date()) <= coverageSlack
}

// Package store defines storage interfaces for persisting and retrieving
// market data bars and the asset catalog.
package store

import (
	"context"
	"errors"
	"time"

	"marketintel/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves daily OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage, replacing any bar with
	// the same symbol and timestamp.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end],
	// ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// CatalogStore persists and retrieves the tradable-universe catalog.
type CatalogStore interface {
	// UpsertAsset inserts an asset or updates the existing row.
	UpsertAsset(ctx context.Context, asset domain.Asset) error

	// GetAsset retrieves a single asset by symbol. It returns ErrNotFound
	// for unknown symbols.
	GetAsset(ctx context.Context, symbol string) (*domain.Asset, error)

	// ListAssets returns active assets ordered by symbol; an empty class
	// lists every class.
	ListAssets(ctx context.Context, class domain.AssetClass) ([]domain.Asset, error)

	// Known returns the subset of symbols that are active in the catalog.
	Known(ctx context.Context, symbols []string) (map[string]bool, error)
}

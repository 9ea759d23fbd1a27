package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"marketintel/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.barPath("aapl", 2024)
	want := filepath.Join("/data", "daily", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.barPath("BTC/USD", 2023)
	want = filepath.Join("/data", "daily", "BTC_USD", "2023.parquet")
	if got != want {
		t.Errorf("barPath for pair mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "SPY",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       470.0,
			High:       472.5,
			Low:        468.0,
			Close:      471.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       470.25,
		},
		{
			Symbol:     "SPY",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       469.5,
			High:       471.0,
			Low:        468.0,
			Close:      470.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       469.75,
		},
	}

	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "SPY", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	// Records come back ordered by timestamp.
	if got[0].Close != 470.0 {
		t.Errorf("first bar Close = %v, want 470.0", got[0].Close)
	}
	if got[1].Close != 471.5 {
		t.Errorf("second bar Close = %v, want 471.5", got[1].Close)
	}
	if got[1].VWAP != 470.25 || got[1].TradeCount != 500000 {
		t.Errorf("second bar = %+v, want VWAP 470.25 and TradeCount 500000", got[1])
	}
}

func TestParquetStoreReadRangeAcrossYears(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "TLT", Timestamp: time.Date(2023, 12, 28, 0, 0, 0, 0, time.UTC), Close: 98},
		{Symbol: "TLT", Timestamp: time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), Close: 99},
		{Symbol: "TLT", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 100},
		{Symbol: "TLT", Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Close: 101},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "TLT",
		time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 99 || got[1].Close != 100 {
		t.Errorf("ReadBars closes = %v, %v, want 99, 100", got[0].Close, got[1].Close)
	}

	// A year with no file is not an error.
	got, err = ps.ReadBars(ctx, "TLT",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil || len(got) != 0 {
		t.Errorf("ReadBars on empty year = %d bars, %v, want 0, nil", len(got), err)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	if err := ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "GLD", Timestamp: day1, Open: 190, High: 192, Low: 189, Close: 191},
	}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Another bar for the same symbol+year merges; a repeated timestamp
	// replaces the stored bar.
	if err := ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "GLD", Timestamp: day2, Open: 191, High: 194, Low: 190, Close: 193},
		{Symbol: "GLD", Timestamp: day1, Open: 190, High: 192, Low: 189, Close: 191.5},
	}); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "GLD", day1, day2)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 191.5 {
		t.Errorf("merged bar Close = %v, want 191.5", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "SPY", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 470},
		{Symbol: "BTC/USD", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 45000},
	}
	if err := ps.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "BTC/USD" || symbols[1] != "SPY" {
		t.Errorf("ListSymbols = %v, want [BTC/USD SPY]", symbols)
	}
}

func newTestCatalog(t *testing.T) *SQLCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCatalog: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() returned error: %v", err)
		}
	})
	return c
}

func TestCatalogSeedAndList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.SeedDefaults(ctx); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	// Seeding twice is idempotent.
	if err := c.SeedDefaults(ctx); err != nil {
		t.Fatalf("SeedDefaults (again): %v", err)
	}

	all, err := c.ListAssets(ctx, "")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(all) != len(DefaultAssets()) {
		t.Fatalf("ListAssets returned %d assets, want %d", len(all), len(DefaultAssets()))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Symbol >= all[i].Symbol {
			t.Errorf("ListAssets not ordered: %s before %s", all[i-1].Symbol, all[i].Symbol)
		}
	}

	crypto, err := c.ListAssets(ctx, domain.AssetClassCrypto)
	if err != nil {
		t.Fatalf("ListAssets(crypto): %v", err)
	}
	if len(crypto) != 3 {
		t.Errorf("ListAssets(crypto) returned %d assets, want 3", len(crypto))
	}
	for _, a := range crypto {
		if a.Class != domain.AssetClassCrypto || !a.Active {
			t.Errorf("unexpected crypto asset %+v", a)
		}
	}
}

func TestCatalogUpsertAndGet(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if _, err := c.GetAsset(ctx, "XYZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAsset(unknown) error = %v, want ErrNotFound", err)
	}

	a := domain.Asset{Symbol: "xyz", Name: "Example", Class: domain.AssetClassEquity, Exchange: "NYSE", Active: true}
	if err := c.UpsertAsset(ctx, a); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	a.Name = "Example Corp"
	a.Active = false
	if err := c.UpsertAsset(ctx, a); err != nil {
		t.Fatalf("UpsertAsset (update): %v", err)
	}

	got, err := c.GetAsset(ctx, "XYZ")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if got.Symbol != "XYZ" || got.Name != "Example Corp" || got.Active {
		t.Errorf("GetAsset = %+v, want updated inactive XYZ", got)
	}

	if err := c.UpsertAsset(ctx, domain.Asset{}); err == nil {
		t.Error("UpsertAsset with empty symbol returned nil error")
	}
}

func TestCatalogKnown(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if err := c.SeedDefaults(ctx); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	if err := c.UpsertAsset(ctx, domain.Asset{Symbol: "OLD", Class: domain.AssetClassEquity}); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}

	known, err := c.Known(ctx, []string{"spy", "TLT", "NOPE", "OLD"})
	if err != nil {
		t.Fatalf("Known: %v", err)
	}
	want := map[string]bool{"SPY": true, "TLT": true, "NOPE": false, "OLD": false}
	for sym, w := range want {
		if known[sym] != w {
			t.Errorf("Known[%s] = %v, want %v", sym, known[sym], w)
		}
	}
}

func TestOpenCatalogRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenCatalog("mysql", "dsn"); err == nil {
		t.Error("OpenCatalog(mysql) returned nil error")
	}
}

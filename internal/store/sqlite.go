package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"marketintel/internal/domain"
)

// Compile-time interface check.
var _ CatalogStore = (*SQLCatalog)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	symbol      TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	asset_class TEXT NOT NULL,
	exchange    TEXT NOT NULL DEFAULT '',
	active      BOOLEAN NOT NULL DEFAULT TRUE
)`

// SQLCatalog implements CatalogStore on a SQL database through sqlx. The
// "sqlite" driver is the default; "postgres" is also supported.
type SQLCatalog struct {
	db *sqlx.DB
}

// NewSQLiteCatalog opens (or creates) a SQLite database at dbPath.
func NewSQLiteCatalog(dbPath string) (*SQLCatalog, error) {
	return OpenCatalog("sqlite", dbPath)
}

// OpenCatalog opens a catalog with the named database/sql driver and
// creates the schema when missing.
func OpenCatalog(driver, dsn string) (*SQLCatalog, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("catalog: unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer at a time.
		db.SetMaxOpenConns(1)
	}
	c := &SQLCatalog{db: db}
	if err := c.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewCatalog wraps an existing sqlx handle; the caller runs Migrate.
func NewCatalog(db *sqlx.DB) *SQLCatalog {
	return &SQLCatalog{db: db}
}

// Migrate creates the assets table when it does not exist.
func (c *SQLCatalog) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *SQLCatalog) Close() error {
	return c.db.Close()
}

// UpsertAsset inserts an asset or updates the existing row.
func (c *SQLCatalog) UpsertAsset(ctx context.Context, a domain.Asset) error {
	a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
	if a.Symbol == "" {
		return errors.New("catalog: asset symbol is empty")
	}
	query := c.db.Rebind(`
		INSERT INTO assets (symbol, name, asset_class, exchange, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			name = excluded.name,
			asset_class = excluded.asset_class,
			exchange = excluded.exchange,
			active = excluded.active`)
	if _, err := c.db.ExecContext(ctx, query, a.Symbol, a.Name, string(a.Class), a.Exchange, a.Active); err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", a.Symbol, err)
	}
	return nil
}

// GetAsset retrieves a single asset by symbol.
func (c *SQLCatalog) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	var a domain.Asset
	query := c.db.Rebind(`SELECT symbol, name, asset_class, exchange, active FROM assets WHERE symbol = ?`)
	err := c.db.GetContext(ctx, &a, query, strings.ToUpper(symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", symbol, err)
	}
	return &a, nil
}

// ListAssets returns active assets ordered by symbol.
func (c *SQLCatalog) ListAssets(ctx context.Context, class domain.AssetClass) ([]domain.Asset, error) {
	query := `SELECT symbol, name, asset_class, exchange, active FROM assets WHERE active = ?`
	args := []any{true}
	if class != "" {
		query += ` AND asset_class = ?`
		args = append(args, string(class))
	}
	query += ` ORDER BY symbol`

	var assets []domain.Asset
	if err := c.db.SelectContext(ctx, &assets, c.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return assets, nil
}

// Known returns which of symbols are active in the catalog.
func (c *SQLCatalog) Known(ctx context.Context, symbols []string) (map[string]bool, error) {
	out := make(map[string]bool, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
		out[upper[i]] = false
	}
	query, args, err := sqlx.In(`SELECT symbol FROM assets WHERE active = ? AND symbol IN (?)`, true, upper)
	if err != nil {
		return nil, fmt.Errorf("catalog: known: %w", err)
	}
	var found []string
	if err := c.db.SelectContext(ctx, &found, c.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("catalog: known: %w", err)
	}
	for _, s := range found {
		out[s] = true
	}
	return out, nil
}

// SeedDefaults upserts the default multi-asset universe.
func (c *SQLCatalog) SeedDefaults(ctx context.Context) error {
	for _, a := range DefaultAssets() {
		if err := c.UpsertAsset(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// DefaultAssets returns the stock universe: sector equity ETFs, treasury
// funds, gold, major crypto pairs and the volatility index, ordered by
// symbol.
func DefaultAssets() []domain.Asset {
	assets := []domain.Asset{
		{Symbol: "SPY", Name: "SPDR S&P 500 ETF", Class: domain.AssetClassEquity, Exchange: "ARCA"},
		{Symbol: "QQQ", Name: "Invesco QQQ Trust", Class: domain.AssetClassEquity, Exchange: "NASDAQ"},
		{Symbol: "XLK", Name: "Technology Select Sector SPDR", Class: domain.AssetClassEquity, Exchange: "ARCA"},
		{Symbol: "XLF", Name: "Financial Select Sector SPDR", Class: domain.AssetClassEquity, Exchange: "ARCA"},
		{Symbol: "XLV", Name: "Health Care Select Sector SPDR", Class: domain.AssetClassEquity, Exchange: "ARCA"},
		{Symbol: "XLE", Name: "Energy Select Sector SPDR", Class: domain.AssetClassEquity, Exchange: "ARCA"},
		{Symbol: "XLI", Name: "Industrial Select Sector SPDR", Class: domain.AssetClassEquity, Exchange: "ARCA"},
		{Symbol: "TLT", Name: "iShares 20+ Year Treasury Bond ETF", Class: domain.AssetClassFixedIncome, Exchange: "NASDAQ"},
		{Symbol: "IEF", Name: "iShares 7-10 Year Treasury Bond ETF", Class: domain.AssetClassFixedIncome, Exchange: "NASDAQ"},
		{Symbol: "GLD", Name: "SPDR Gold Trust", Class: domain.AssetClassCommodity, Exchange: "ARCA"},
		{Symbol: "BTC/USD", Name: "Bitcoin", Class: domain.AssetClassCrypto, Exchange: "CRYPTO"},
		{Symbol: "ETH/USD", Name: "Ethereum", Class: domain.AssetClassCrypto, Exchange: "CRYPTO"},
		{Symbol: "SOL/USD", Name: "Solana", Class: domain.AssetClassCrypto, Exchange: "CRYPTO"},
		{Symbol: "VIXY", Name: "ProShares VIX Short-Term Futures ETF", Class: domain.AssetClassMacro, Exchange: "BATS"},
	}
	for i := range assets {
		assets[i].Active = true
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets
}

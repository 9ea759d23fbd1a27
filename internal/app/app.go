// Package app wires the marketintel components from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"marketintel/internal/analysis"
	"marketintel/internal/backtest"
	"marketintel/internal/cache"
	"marketintel/internal/config"
	"marketintel/internal/engine"
	"marketintel/internal/gather"
	"marketintel/internal/marketdata"
	"marketintel/internal/model/builtins"
	"marketintel/internal/store"
	"marketintel/internal/telemetry"
)

// redisPingTimeout bounds the startup check of the result cache.
const redisPingTimeout = 3 * time.Second

// ErrNoUpstream is returned when an operation needs live market data but
// no provider credentials are configured.
var ErrNoUpstream = errors.New("app: no upstream market data provider configured")

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Catalog  *store.SQLCatalog
	Bars     *store.ParquetStore
	Provider marketdata.Provider // store read-through over upstream
	Runner   *backtest.Runner
	Analyzer *analysis.Analyzer
	Metrics  *telemetry.Metrics // nil when no registerer was given

	upstream marketdata.Provider
	redis    *redis.Client
	cache    cache.Cache
}

// New builds the catalog, provider stack, model registry and runner. reg
// may be nil to disable metrics.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if reg != nil {
		a.Metrics = telemetry.NewMetrics(reg)
	}

	if cfg.Storage.CatalogDriver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog dir: %w", err)
		}
	}
	catalog, err := store.OpenCatalog(cfg.Storage.CatalogDriver, cfg.Storage.CatalogDSN())
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog
	if err := catalog.SeedDefaults(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("seeding catalog: %w", err)
	}

	a.Bars = store.NewParquetStore(cfg.Storage.DataDir)
	a.upstream = a.newUpstream()
	a.Provider = marketdata.NewStoreProvider(a.Bars, a.upstream, log)

	registry := builtins.NewRegistry(cfg.Models)
	a.Runner = backtest.NewRunner(a.Provider, registry, cfg.Backtest).
		WithLogger(log).
		WithCatalog(catalog)
	a.Analyzer = analysis.New(a.Provider, analysis.Options{
		RiskFreeRate: cfg.Backtest.RiskFreeRate,
		Concurrency:  cfg.Backtest.PrefetchConcurrency,
	}, log)

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, result cache disabled")
			a.redis.Close()
			a.redis = nil
		} else {
			a.cache = cache.NewRedisCache(a.redis, cfg.Redis.TTL)
		}
	}

	log.Info().
		Str("provider", a.Provider.Name()).
		Str("catalog", cfg.Storage.CatalogDriver).
		Bool("cache", a.cache != nil).
		Strs("models", modelNames(a.Runner)).
		Msg("components ready")
	return a, nil
}

func (a *App) newUpstream() marketdata.Provider {
	cfg := a.Config
	if cfg.Provider.Offline {
		return nil
	}
	if !cfg.Alpaca.Configured() {
		a.Log.Warn().Msg("alpaca credentials not set, serving bars from the local store only")
		return nil
	}
	alpaca := marketdata.NewAlpacaProvider(marketdata.AlpacaConfig{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		DataURL:   cfg.Alpaca.DataURL,
		Feed:      cfg.Alpaca.Feed,
	})
	rc := cfg.Provider.Resilient()
	rc.OnRequest = a.Metrics.ProviderRequest
	return marketdata.NewResilient(alpaca, rc, a.Log)
}

// Engine creates the backtest engine with the cache, metrics and logger
// wired in; extra options are applied last.
func (a *App) Engine(opts ...engine.Option) *engine.Engine {
	base := []engine.Option{engine.WithLogger(a.Log), engine.WithMetrics(a.Metrics)}
	if a.cache != nil {
		base = append(base, engine.WithCache(a.cache))
	}
	return engine.NewEngine(a.Runner, a.Config.Engine, append(base, opts...)...)
}

// Gatherer creates a bar gatherer writing upstream bars into the local
// store. An empty symbol list gathers every active catalog asset.
func (a *App) Gatherer(ctx context.Context, symbols []string, rng gather.DateRange) (*gather.BarGatherer, error) {
	if a.upstream == nil {
		return nil, ErrNoUpstream
	}
	if len(symbols) == 0 {
		symbols = a.Config.Gather.Symbols
	}
	if len(symbols) == 0 {
		assets, err := a.Catalog.ListAssets(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("listing catalog: %w", err)
		}
		for _, as := range assets {
			symbols = append(symbols, as.Symbol)
		}
	}
	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return gather.NewBarGatherer(a.upstream, a.Bars, gather.Config{
		Symbols:  normalized,
		Range:    rng,
		Workers:  a.Config.Gather.Workers,
		StateDir: a.Config.Storage.DataDir,
	}, a.Log), nil
}

// Close releases the catalog and redis connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.Close())
	}
	return errors.Join(errs...)
}

func modelNames(r *backtest.Runner) []string {
	var out []string
	for _, mt := range r.Models() {
		out = append(out, string(mt))
	}
	return out
}

// Package config loads the YAML configuration shared by the marketintel
// binaries and applies environment overrides and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"marketintel/internal/backtest"
	"marketintel/internal/engine"
	"marketintel/internal/marketdata"
	"marketintel/internal/model/builtins"
)

// DefaultPath is the configuration file used when MARKETINTEL_CONFIG is
// unset.
const DefaultPath = "config/marketintel.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for marketintel.
type Config struct {
	Storage  Storage          `yaml:"storage"`
	Server   Server           `yaml:"server"`
	Alpaca   Alpaca           `yaml:"alpaca"`
	Logging  Logging          `yaml:"logging"`
	Redis    Redis            `yaml:"redis"`
	Provider Provider         `yaml:"provider"`
	Gather   Gather           `yaml:"gather"`
	Engine   engine.Config    `yaml:"engine"`
	Backtest backtest.Options `yaml:"backtest"`
	Models   builtins.Config  `yaml:"models"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir       string `yaml:"data_dir"`       // parquet bar cache
	SQLitePath    string `yaml:"sqlite_path"`    // asset catalog when driver is sqlite
	CatalogDriver string `yaml:"catalog_driver"` // "sqlite" or "postgres"
	DatabaseDSN   string `yaml:"database_dsn"`   // asset catalog when driver is postgres
}

// CatalogDSN returns the data source name for the configured driver.
func (s Storage) CatalogDSN() string {
	if s.CatalogDriver == "postgres" {
		return s.DatabaseDSN
	}
	return s.SQLitePath
}

// Server holds network listener configuration.
type Server struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	GRPCPort     int           `yaml:"grpc_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// HTTPAddr is the HTTP listen address.
func (s Server) HTTPAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr is the gRPC listen address.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Configured reports whether credentials are present.
func (a Alpaca) Configured() bool { return a.APIKey != "" && a.APISecret != "" }

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Redis configures the result cache. An empty Addr disables caching.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Provider configures how bars are fetched.
type Provider struct {
	// Offline serves bars from the local store only.
	Offline          bool          `yaml:"offline"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// Resilient returns the wrapper settings for the upstream provider.
func (p Provider) Resilient() marketdata.ResilientConfig {
	return marketdata.ResilientConfig{
		RateLimitPerMin:  p.RateLimitPerMin,
		MaxAttempts:      p.MaxAttempts,
		BaseDelay:        p.BaseDelay,
		FailureThreshold: p.FailureThreshold,
		OpenTimeout:      p.OpenTimeout,
	}
}

// Gather holds the defaults of the gather command.
type Gather struct {
	Symbols   []string `yaml:"symbols"` // empty means every active catalog asset
	StartDate string   `yaml:"start_date"`
	Workers   int      `yaml:"workers"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns MARKETINTEL_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("MARKETINTEL_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides and
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults plus environment
// overrides when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &Config{}
		applyEnvOverrides(cfg)
		applyDefaults(cfg)
		return cfg, nil
	}
	return cfg, err
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Storage.DatabaseDSN = v
		cfg.Storage.CatalogDriver = "postgres"
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Standard Alpaca env vars take precedence over the names above.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills every unset field that has a default.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/marketintel.db"
	}
	if cfg.Storage.CatalogDriver == "" {
		cfg.Storage.CatalogDriver = "sqlite"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 15 * time.Minute
	}

	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Provider.RateLimitPerMin == 0 {
		cfg.Provider.RateLimitPerMin = 200
	}
	if cfg.Gather.StartDate == "" {
		cfg.Gather.StartDate = "2015-01-01"
	}
	if cfg.Gather.Workers <= 0 {
		cfg.Gather.Workers = 4
	}

	d := engine.DefaultConfig()
	if cfg.Engine.MaxConcurrentRuns <= 0 {
		cfg.Engine.MaxConcurrentRuns = d.MaxConcurrentRuns
	}
	if cfg.Engine.RunTimeout <= 0 {
		cfg.Engine.RunTimeout = d.RunTimeout
	}
	if cfg.Engine.JobRetention <= 0 {
		cfg.Engine.JobRetention = d.JobRetention
	}
	if cfg.Engine.Limits == (engine.Limits{}) {
		cfg.Engine.Limits = d.Limits
	}

	cfg.Backtest = cfg.Backtest.WithDefaults()
	cfg.Models = cfg.Models.WithDefaults()
}

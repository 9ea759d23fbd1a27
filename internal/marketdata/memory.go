package marketdata

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"marketintel/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*MemoryProvider)(nil)

// MemoryProvider serves bars held in memory. It is safe for concurrent use.
type MemoryProvider struct {
	mu    sync.RWMutex
	bars  map[string][]domain.Bar
	calls map[string]int
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		bars:  make(map[string][]domain.Bar),
		calls: make(map[string]int),
	}
}

// Name returns "memory".
func (m *MemoryProvider) Name() string { return "memory" }

// Add stores bars under their symbol, replacing earlier bars on the same
// dates.
func (m *MemoryProvider) Add(bars ...domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol := make(map[string][]domain.Bar)
	for _, b := range bars {
		sym := strings.ToUpper(b.Symbol)
		bySymbol[sym] = append(bySymbol[sym], b)
	}
	for sym, bs := range bySymbol {
		m.bars[sym] = Normalize(sym, append(m.bars[sym], bs...))
	}
}

// FetchBars returns the stored bars for symbol within [start, end].
func (m *MemoryProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sym := strings.ToUpper(symbol)
	m.mu.Lock()
	m.calls[sym]++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Bar
	for _, b := range m.bars[sym] {
		if inRange(b, start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Calls returns how many times FetchBars was called for symbol.
func (m *MemoryProvider) Calls(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[strings.ToUpper(symbol)]
}

// TotalCalls returns the number of FetchBars calls across all symbols.
func (m *MemoryProvider) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int
	for _, c := range m.calls {
		n += c
	}
	return n
}

// WalkConfig parameterises a synthetic price path.
type WalkConfig struct {
	Start      time.Time
	Days       int     // number of weekday bars
	Price      float64 // first open
	Drift      float64 // mean daily log return
	Volatility float64 // daily log-return standard deviation
	Seed       int64
}

// RandomWalk generates weekday bars following a geometric random walk.
// Identical configs produce identical bars.
func RandomWalk(symbol string, cfg WalkConfig) []domain.Bar {
	if cfg.Price <= 0 {
		cfg.Price = 100
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	bars := make([]domain.Bar, 0, cfg.Days)
	price := cfg.Price
	day := domain.DateOf(cfg.Start)
	for len(bars) < cfg.Days {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			open := price
			price *= math.Exp(cfg.Drift + cfg.Volatility*rng.NormFloat64())
			spread := cfg.Volatility * rng.Float64()
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  day,
				Open:       open,
				High:       math.Max(open, price) * (1 + spread),
				Low:        math.Min(open, price) * (1 - spread),
				Close:      price,
				Volume:     int64(1_000_000 + rng.Intn(1_000_000)),
				TradeCount: int64(10_000 + rng.Intn(10_000)),
				VWAP:       (open + price) / 2,
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

// Package gather pulls daily bars from a market data provider into the
// local bar store.
package gather

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketintel/internal/domain"
	"marketintel/internal/marketdata"
	"marketintel/internal/store"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run gathers data until done or ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ Gatherer = (*BarGatherer)(nil)

// DefaultWorkers is the number of symbols fetched concurrently.
const DefaultWorkers = 4

// Config configures a BarGatherer.
type Config struct {
	Symbols []string
	Range   DateRange // zero End means today
	Workers int

	// StateDir holds the resume state; empty disables resuming.
	StateDir string
}

// Summary reports the outcome of one gather run.
type Summary struct {
	Symbols int `json:"symbols"`
	Fetched int `json:"fetched"` // symbols that returned bars
	Empty   int `json:"empty"`   // symbols without bars in range
	Skipped int `json:"skipped"` // symbols known empty from an earlier run
	Failed  int `json:"failed"`
	Bars    int `json:"bars"`
}

// BarGatherer fetches daily bars for a symbol list and writes them to a
// BarStore. A run that completes for an end date is not repeated.
type BarGatherer struct {
	provider marketdata.Provider
	store    store.BarStore
	cfg      Config
	log      zerolog.Logger
}

// NewBarGatherer creates a BarGatherer.
func NewBarGatherer(p marketdata.Provider, s store.BarStore, cfg Config, log zerolog.Logger) *BarGatherer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	syms := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			syms = append(syms, sym)
		}
	}
	cfg.Symbols = syms
	return &BarGatherer{
		provider: p,
		store:    s,
		cfg:      cfg,
		log:      log.With().Str("gatherer", "daily-bars").Logger(),
	}
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string { return "daily-bars" }

// Run gathers every configured symbol.
func (g *BarGatherer) Run(ctx context.Context) error {
	_, err := g.Gather(ctx)
	return err
}

// Gather fetches and stores bars, returning what happened. Per-symbol
// failures are logged and counted; the run fails only when every
// attempted symbol failed.
func (g *BarGatherer) Gather(ctx context.Context) (Summary, error) {
	sum := Summary{Symbols: len(g.cfg.Symbols)}

	end := g.cfg.Range.End
	if end.IsZero() {
		end = time.Now()
	}
	end = domain.DateOf(end)
	start := domain.DateOf(g.cfg.Range.Start)
	if !start.Before(end) {
		return sum, fmt.Errorf("gather: start %s is not before end %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	endStr := end.Format("2006-01-02")

	var st *state
	if g.cfg.StateDir != "" {
		var err error
		if st, err = loadState(g.cfg.StateDir); err != nil {
			return sum, err
		}
		if st.completed(endStr) {
			g.log.Info().Str("end", endStr).Msg("already completed")
			sum.Skipped = len(g.cfg.Symbols)
			return sum, nil
		}
		st.beginDay(endStr)
	}

	var todo []string
	for _, sym := range g.cfg.Symbols {
		if st != nil && st.isEmpty(sym) {
			sum.Skipped++
			continue
		}
		todo = append(todo, sym)
	}

	g.log.Info().
		Str("provider", g.provider.Name()).
		Str("start", start.Format("2006-01-02")).
		Str("end", endStr).
		Int("symbols", len(todo)).
		Int("skipped", sum.Skipped).
		Msg("starting gather")

	work := make(chan string, len(todo))
	for _, sym := range todo {
		work <- sym
	}
	close(work)

	var (
		wg                    sync.WaitGroup
		fetched, empty, fails atomic.Int64
		bars                  atomic.Int64
		runStart              = time.Now()
	)
	for w := 0; w < min(g.cfg.Workers, len(todo)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range work {
				if ctx.Err() != nil {
					return
				}
				got, err := g.provider.FetchBars(ctx, sym, start, end)
				if err == nil && len(got) > 0 {
					err = g.store.WriteBars(ctx, marketdata.Normalize(sym, got))
				}
				switch {
				case err != nil:
					fails.Add(1)
					g.log.Error().Err(err).Str("symbol", sym).Msg("gather failed")
				case len(got) == 0:
					empty.Add(1)
					if st != nil {
						st.markEmpty(sym)
					}
				default:
					fetched.Add(1)
					bars.Add(int64(len(got)))
					g.log.Debug().Str("symbol", sym).Int("bars", len(got)).
						Dur("elapsed", time.Since(runStart).Round(time.Millisecond)).Msg("symbol done")
				}
			}
		}()
	}
	wg.Wait()

	sum.Fetched = int(fetched.Load())
	sum.Empty = int(empty.Load())
	sum.Failed = int(fails.Load())
	sum.Bars = int(bars.Load())

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if sum.Failed > 0 && sum.Failed == len(todo) {
		return sum, fmt.Errorf("gather: all %d symbols failed", sum.Failed)
	}
	if st != nil && sum.Failed == 0 {
		st.markCompleted(endStr)
	}
	if st != nil {
		if err := st.save(); err != nil {
			return sum, err
		}
	}

	g.log.Info().
		Int("fetched", sum.Fetched).
		Int("empty", sum.Empty).
		Int("failed", sum.Failed).
		Int("bars", sum.Bars).
		Dur("elapsed", time.Since(runStart).Round(time.Millisecond)).
		Msg("gather complete")
	return sum, nil
}

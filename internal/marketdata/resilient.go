package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"marketintel/internal/domain"
	"marketintel/internal/util"
)

// Compile-time interface check.
var _ Provider = (*Resilient)(nil)

// ResilientConfig tunes the Resilient wrapper. Zero fields take defaults.
type ResilientConfig struct {
	RateLimitPerMin  int           // 0 disables rate limiting
	MaxAttempts      int           // default 3
	BaseDelay        time.Duration // default 500ms, doubled per retry
	FailureThreshold uint32        // consecutive failures that open the breaker, default 5
	OpenTimeout      time.Duration // time the breaker stays open, default 30s

	// OnRequest, when set, observes the outcome of every upstream call.
	OnRequest func(provider string, err error)
}

// Resilient wraps a Provider with a rate limiter, retries with
// exponential backoff and a circuit breaker.
type Resilient struct {
	next    Provider
	cfg     ResilientConfig
	limiter *util.RateLimiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewResilient wraps next.
func NewResilient(next Provider, cfg ResilientConfig, log zerolog.Logger) *Resilient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	log = log.With().Str("component", "marketdata").Str("provider", next.Name()).Logger()

	threshold := cfg.FailureThreshold
	st := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}

	return &Resilient{
		next:    next,
		cfg:     cfg,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		breaker: gobreaker.NewCircuitBreaker(st),
		log:     log,
	}
}

// Name returns the wrapped provider's name.
func (r *Resilient) Name() string { return r.next.Name() }

// State returns the breaker state.
func (r *Resilient) State() gobreaker.State { return r.breaker.State() }

// FetchBars calls the wrapped provider. An open breaker or a cancelled
// context fails immediately without further attempts.
func (r *Resilient) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	attempt := 0
	err := util.Retry(ctx, r.cfg.MaxAttempts, r.cfg.BaseDelay, func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		res, err := r.breaker.Execute(func() (interface{}, error) {
			return r.next.FetchBars(ctx, symbol, start, end)
		})
		if r.cfg.OnRequest != nil {
			r.cfg.OnRequest(r.next.Name(), err)
		}
		switch {
		case err == nil:
			bars, _ = res.([]domain.Bar)
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return util.Permanent(err)
		case ctx.Err() != nil:
			return util.Permanent(ctx.Err())
		}
		r.log.Debug().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("fetch failed")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.next.Name(), err)
	}
	return bars, nil
}

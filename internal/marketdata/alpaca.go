package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marketintel/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// alpacaClient is the subset of the Alpaca market-data client used here.
type alpacaClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
}

// AlpacaConfig holds credentials and feed selection for AlpacaProvider.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string // optional market-data base URL override
	Feed      string // stock feed, "sip" by default
}

// AlpacaProvider fetches split- and dividend-adjusted daily bars from the
// Alpaca market-data API. Symbols containing "/" are crypto pairs.
type AlpacaProvider struct {
	client alpacaClient
	feed   string
}

// NewAlpacaProvider creates an AlpacaProvider configured with the given
// Alpaca credentials.
func NewAlpacaProvider(cfg AlpacaConfig) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return newAlpacaProvider(marketdata.NewClient(opts), cfg.Feed)
}

func newAlpacaProvider(client alpacaClient, feed string) *AlpacaProvider {
	if feed == "" {
		feed = "sip"
	}
	return &AlpacaProvider{client: client, feed: feed}
}

// Name returns "alpaca".
func (p *AlpacaProvider) Name() string { return "alpaca" }

// FetchBars fetches daily bars for symbol. end is inclusive.
func (p *AlpacaProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)
	// The API treats End as exclusive of the following day's bar.
	endExcl := domain.DateOf(end).AddDate(0, 0, 1)

	if strings.Contains(symbol, "/") {
		cbars, err := p.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     domain.DateOf(start),
			End:       endExcl,
		})
		if err != nil {
			return nil, fmt.Errorf("GetCryptoBars %s: %w", symbol, err)
		}
		bars := make([]domain.Bar, 0, len(cbars))
		for _, cb := range cbars {
			bars = append(bars, domain.Bar{
				Symbol:     symbol,
				Timestamp:  cb.Timestamp,
				Open:       cb.Open,
				High:       cb.High,
				Low:        cb.Low,
				Close:      cb.Close,
				Volume:     int64(cb.Volume),
				TradeCount: int64(cb.TradeCount),
				VWAP:       cb.VWAP,
			})
		}
		return filterRange(bars, start, end), nil
	}

	abars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      domain.DateOf(start),
		End:        endExcl,
		Feed:       marketdata.Feed(p.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	bars := make([]domain.Bar, 0, len(abars))
	for _, ab := range abars {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return filterRange(bars, start, end), nil
}

func filterRange(bars []domain.Bar, start, end time.Time) []domain.Bar {
	out := bars[:0]
	for _, b := range bars {
		if inRange(b, start, end) {
			out = append(out, b)
		}
	}
	return out
}

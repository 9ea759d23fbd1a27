// Package marketintel is the Go SDK for the marketintel-server HTTP API.
package marketintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Kind       string
	Field      string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("marketintel: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("marketintel: HTTP %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// Client provides a Go SDK for interacting with the marketintel-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new marketintel API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Backtest runs a backtest synchronously.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var out BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitJob starts a backtest as an asynchronous job.
func (c *Client) SubmitJob(ctx context.Context, req BacktestRequest) (*Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job retrieves a job by ID.
func (c *Client) Job(ctx context.Context, id string) (*Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitJob polls a job every interval until it finishes or ctx is done.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Forecast requests next-horizon predictions.
func (c *Client) Forecast(ctx context.Context, req ForecastRequest) (*ForecastResponse, error) {
	var out ForecastResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/forecast", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Assets lists the catalog; an empty class lists every class.
func (c *Client) Assets(ctx context.Context, class string) ([]Asset, error) {
	path := "/api/v1/assets"
	if class != "" {
		path += "?class=" + url.QueryEscape(class)
	}
	var out AssetsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

// Asset looks up one catalog entry.
func (c *Client) Asset(ctx context.Context, symbol string) (*Asset, error) {
	var out Asset
	if err := c.do(ctx, http.MethodGet, "/api/v1/assets/"+url.PathEscape(symbol), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssetCategories lists catalog symbols grouped by asset class.
func (c *Client) AssetCategories(ctx context.Context) (map[string][]string, error) {
	var out AssetCategoriesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/assets/categories", nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

func rangeQuery(start, end string) string {
	q := url.Values{}
	q.Set("start_date", start)
	q.Set("end_date", end)
	return "?" + q.Encode()
}

// QuickStats returns buy-and-hold metrics for symbol between two
// YYYY-MM-DD dates.
func (c *Client) QuickStats(ctx context.Context, symbol, start, end string) (*QuickStatsResponse, error) {
	var out QuickStatsResponse
	path := "/api/v1/backtest/quick-stats/" + url.PathEscape(symbol) + rangeQuery(start, end)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Analyze requests per-symbol statistics.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	var out AnalysisResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/analysis", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PriceHistory returns daily bars for symbol between two YYYY-MM-DD dates.
func (c *Client) PriceHistory(ctx context.Context, symbol, start, end string) (*PriceHistoryResponse, error) {
	var out PriceHistoryResponse
	path := "/api/v1/analysis/price-history/" + url.PathEscape(symbol) + rangeQuery(start, end)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models lists the registered model types.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out ModelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Kind, apiErr.Field, apiErr.Message = e.Kind, e.Field, e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

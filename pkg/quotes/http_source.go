// Package quotes provides market data sources for the execution
// engine: an HTTP fetcher backed by a Binance-style ticker API and a
// simulated random-walk source for paper sessions without connectivity.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"golang.org/x/time/rate"

	"github.com/erain9/papertrade/pkg/core"
)

// HTTPQuoteSource fetches ticker prices from a Binance-style public API
type HTTPQuoteSource struct {
	client  *http.Client
	cfg     *Config
	logger  *slog.Logger
	limiter *rate.Limiter
	baseURL string
}

// tickerResponse represents the response from the ticker price endpoint
type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// NewHTTPQuoteSource creates a quote source backed by the configured
// ticker API. Requests are rate limited per the config.
func NewHTTPQuoteSource(cfg *Config, logger *slog.Logger) (*HTTPQuoteSource, error) {
	client := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    30 * time.Second,
			DisableCompression: true,
		},
	}

	return &HTTPQuoteSource{
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "HTTPQuoteSource"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		baseURL: cfg.QuoteSourceURL,
	}, nil
}

// GetQuote fetches the current price for a symbol like "BTC-USDT".
func (s *HTTPQuoteSource) GetQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	asset, err := core.ParseAsset(symbol)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", s.baseURL, asset.External())
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var attempts int
	var lastErr error
	for attempts = 1; attempts <= s.cfg.MaxRetries; attempts++ {
		quote, err := s.fetchOnce(req, symbol)
		if err == nil {
			s.logger.Debug("Successfully fetched quote",
				"symbol", symbol,
				"price", quote.Price.String(),
				"attempt", attempts)
			return quote, nil
		}
		lastErr = err
		s.logger.Warn("Quote fetch failed",
			"attempt", attempts,
			"max_retries", s.cfg.MaxRetries,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("failed to fetch quote after %d attempts: %w", attempts-1, lastErr)
}

func (s *HTTPQuoteSource) fetchOnce(req *http.Request, symbol string) (*core.Quote, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request returned non-200 status: %d", resp.StatusCode)
	}

	var ticker tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	price, err := fpdecimal.FromString(ticker.Price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price '%s': %w", ticker.Price, err)
	}

	return &core.Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Close releases idle connections
func (s *HTTPQuoteSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

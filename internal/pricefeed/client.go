// Package pricefeed supplies USD prices for the position monitor. A REST
// client answers batch queries; a websocket stream keeps the cache warm for
// symbols with open positions.
package pricefeed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/retry"
)

// Price is one observation for a symbol.
type Price struct {
	Symbol    string
	PriceUSD  float64
	Change24h float64
	Volume24h float64
	At        time.Time
}

// Source is what the monitor consumes. GetPrices answers a whole batch so a
// monitor tick is one upstream round-trip.
type Source interface {
	GetPrice(ctx context.Context, symbol string) (Price, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]Price, error)
}

// Client is a REST price source with a stream-warmed cache. Cached entries
// younger than maxAge answer without an upstream call.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Policy
	maxAge  time.Duration

	mu     sync.RWMutex
	prices map[string]Price

	now func() time.Time
}

func NewClient(baseURL, apiKey string, timeout, maxAge time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		retry:   retry.Default,
		maxAge:  maxAge,
		prices:  make(map[string]Price),
		now:     time.Now,
	}
}

// GetPrice returns one symbol's price, from the warm cache when fresh.
func (c *Client) GetPrice(ctx context.Context, symbol string) (Price, error) {
	prices, err := c.GetPrices(ctx, []string{symbol})
	if err != nil {
		return Price{}, err
	}
	p, ok := prices[normalize(symbol)]
	if !ok {
		return Price{}, errs.Newf(errs.PriceDataUnavailable, "no price for %s", symbol).
			WithContext(errs.Context{Symbol: symbol})
	}
	return p, nil
}

// GetPrices answers a batch. Symbols with a fresh cached price skip the REST
// call; the rest go upstream in one request. Symbols the feed does not know
// are absent from the result, not an error.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]Price, error) {
	out := make(map[string]Price, len(symbols))
	var missing []string

	now := c.now()
	c.mu.RLock()
	for _, s := range symbols {
		key := normalize(s)
		if p, ok := c.prices[key]; ok && now.Sub(p.At) <= c.maxAge {
			out[key] = p
		} else {
			missing = append(missing, key)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		// Serve what the cache has if it covers at least part of the batch;
		// the monitor skips symbols without a price instead of stalling.
		if len(out) > 0 {
			log.Warn().Err(err).Strs("missing", missing).Msg("price fetch failed, serving cached subset")
			return out, nil
		}
		return nil, err
	}
	for k, p := range fetched {
		out[k] = p
		c.store(p)
	}
	return out, nil
}

// Observe feeds a streamed price into the cache.
func (c *Client) Observe(p Price) {
	p.Symbol = normalize(p.Symbol)
	if p.At.IsZero() {
		p.At = c.now()
	}
	c.store(p)
}

func (c *Client) store(p Price) {
	c.mu.Lock()
	c.prices[normalize(p.Symbol)] = p
	c.mu.Unlock()
}

type tickerResponse struct {
	Symbol    string  `json:"symbol"`
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"change_24h"`
	Volume24h float64 `json:"volume_24h"`
}

func (c *Client) fetch(ctx context.Context, symbols []string) (map[string]Price, error) {
	var out map[string]Price
	err := c.retry.Do(ctx, "price fetch", func(ctx context.Context) error {
		u := c.baseURL + "/v1/tickers?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "create price request")
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "price feed unreachable")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return errs.New(errs.APIRateLimited, "price feed rate limited")
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return errs.Newf(errs.PriceDataUnavailable, "price feed returned %d: %s", resp.StatusCode, body)
		}

		var tickers []tickerResponse
		if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "decode price response")
		}

		now := c.now()
		out = make(map[string]Price, len(tickers))
		for _, t := range tickers {
			key := normalize(t.Symbol)
			out[key] = Price{
				Symbol:    key,
				PriceUSD:  t.PriceUSD,
				Change24h: t.Change24h,
				Volume24h: t.Volume24h,
				At:        now,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

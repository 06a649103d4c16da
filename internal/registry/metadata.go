// Package registry contains the external token lookup sources fed into the
// token resolver: a hosted token-metadata registry and a DEX listing index.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/retry"
	"safe-trade-bot/internal/token"
)

const defaultTimeout = 10 * time.Second

// MetadataClient queries the hosted token registry for contract bindings.
type MetadataClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Policy
}

// NewMetadataClient builds a registry client. An empty timeout falls back to
// 10s.
func NewMetadataClient(baseURL, apiKey string, timeout time.Duration) *MetadataClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &MetadataClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		retry:   retry.Default,
	}
}

func (c *MetadataClient) Name() string { return "registry" }

// registryToken is the upstream response shape: one entry per deployment.
type registryToken struct {
	Symbol   string `json:"symbol"`
	Network  string `json:"network"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Native   bool   `json:"native"`
}

// LookupTokenBindings fetches all known deployments for a symbol. A 404 or an
// empty list is a clean miss, not an error.
func (c *MetadataClient) LookupTokenBindings(ctx context.Context, symbol string) ([]token.Binding, error) {
	var out []token.Binding
	err := c.retry.Do(ctx, "registry lookup", func(ctx context.Context) error {
		u := fmt.Sprintf("%s/v1/tokens?symbol=%s", c.baseURL, url.QueryEscape(symbol))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "create registry request")
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "registry unreachable")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			out = nil
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return errs.New(errs.APIRateLimited, "registry rate limited")
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return errs.Newf(errs.PriceDataUnavailable, "registry returned %d: %s", resp.StatusCode, body)
		}

		var tokens []registryToken
		if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "decode registry response")
		}

		out = out[:0]
		for _, t := range tokens {
			if t.Address == "" || t.Network == "" {
				continue
			}
			out = append(out, token.Binding{
				Symbol:          t.Symbol,
				Network:         token.NetworkKey(t.Network),
				ContractAddress: t.Address,
				Decimals:        t.Decimals,
				IsNative:        t.Native,
				Source:          token.SourceRegistry,
				Verified:        true,
			})
		}

		log.Debug().
			Str("symbol", symbol).
			Int("bindings", len(out)).
			Dur("latency", time.Since(start)).
			Msg("registry lookup")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

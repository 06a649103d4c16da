package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/retry"
	"safe-trade-bot/internal/token"
)

// ListingClient queries a DEX listing index (dexscreener-style pair search)
// and turns trading pairs into token bindings. Only the base side of a pair
// counts: being the quote asset of someone else's pair is not a listing.
type ListingClient struct {
	baseURL         string
	minLiquidityUSD float64
	http            *http.Client
	retry           retry.Policy
}

func NewListingClient(baseURL string, minLiquidityUSD float64, timeout time.Duration) *ListingClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ListingClient{
		baseURL:         baseURL,
		minLiquidityUSD: minLiquidityUSD,
		http:            &http.Client{Timeout: timeout},
		retry:           retry.Default,
	}
}

func (c *ListingClient) Name() string { return "dex-listing" }

type pairSearchResponse struct {
	Pairs []listingPair `json:"pairs"`
}

type listingPair struct {
	ChainID   string      `json:"chainId"`
	BaseToken listingSide `json:"baseToken"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type listingSide struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// LookupTokenBindings searches the pair index for the symbol. Pairs below the
// liquidity threshold still resolve but stay unverified; the sizer treats them
// more carefully downstream.
func (c *ListingClient) LookupTokenBindings(ctx context.Context, symbol string) ([]token.Binding, error) {
	var out []token.Binding
	err := c.retry.Do(ctx, "dex listing lookup", func(ctx context.Context) error {
		u := c.baseURL + "/latest/dex/search?q=" + url.QueryEscape(symbol)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "create listing request")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "listing index unreachable")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return errs.New(errs.APIRateLimited, "listing index rate limited")
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return errs.Newf(errs.PriceDataUnavailable, "listing index returned %d: %s", resp.StatusCode, body)
		}

		var search pairSearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
			return errs.Wrap(errs.PriceDataUnavailable, err, "decode listing response")
		}

		want := strings.ToUpper(strings.TrimSpace(symbol))
		out = out[:0]
		for _, p := range search.Pairs {
			if strings.ToUpper(p.BaseToken.Symbol) != want || p.BaseToken.Address == "" {
				continue
			}
			decimals := p.BaseToken.Decimals
			if decimals == 0 {
				decimals = 18
			}
			out = append(out, token.Binding{
				Symbol:          p.BaseToken.Symbol,
				Network:         token.NetworkKey(p.ChainID),
				ContractAddress: p.BaseToken.Address,
				Decimals:        decimals,
				Source:          token.SourceDexListing,
				Verified:        p.Liquidity.USD >= c.minLiquidityUSD,
			})
		}

		log.Debug().Str("symbol", symbol).Int("pairs", len(search.Pairs)).Int("bindings", len(out)).Msg("listing lookup")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

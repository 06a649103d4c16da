// Package aggregator talks to the DEX aggregator API: swap quotes with
// executable calldata, plus the per-network permit contract the wallet has to
// approve before selling ERC-20s.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/retry"
	"safe-trade-bot/internal/token"
)

// HTTPClientPool round-robins requests over several HTTP/2 clients so quote
// bursts during volatile markets do not serialize on one connection.
type HTTPClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

func NewHTTPClientPool(size int, timeout time.Duration) *HTTPClientPool {
	pool := &HTTPClientPool{clients: make([]*http.Client, size)}
	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		http2.ConfigureTransport(transport)
		pool.clients[i] = &http.Client{Transport: transport, Timeout: timeout}
	}
	log.Info().Int("poolSize", size).Msg("HTTP/2 client pool initialized")
	return pool
}

func (p *HTTPClientPool) Get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	client := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return client
}

// QuoteRequest describes the swap to price.
type QuoteRequest struct {
	Network       token.NetworkKey
	ChainID       int64
	WalletAddress common.Address
	SellContract  string
	BuyContract   string
	SellAmountRaw *big.Int
	SlippageBps   int
}

// Quote is an executable route. To/Data/Value go through the wallet verbatim;
// Spender is what must hold an allowance before a non-native sell.
type Quote struct {
	To               common.Address
	Data             []byte
	Value            *big.Int
	GasHint          uint64
	Spender          common.Address
	BuyAmountHintRaw *big.Int
	MinBuyAmountRaw  *big.Int
}

// Client is the aggregator API client with key rotation across the pool.
type Client struct {
	baseURL string
	pool    *HTTPClientPool
	apiKeys []string
	keyIdx  atomic.Uint32
	retry   retry.Policy

	// permit contracts by network, from config
	permits map[token.NetworkKey]common.Address
	// advisory floor below which routes tend to fail, in sell-token raw units
	minSellAmounts map[token.NetworkKey]*big.Int
}

func NewClient(baseURL string, timeout time.Duration, apiKeys []string, permits map[token.NetworkKey]common.Address, minSellAmounts map[token.NetworkKey]*big.Int) *Client {
	if len(apiKeys) == 0 {
		if envKeys := os.Getenv("AGGREGATOR_API_KEYS"); envKeys != "" {
			apiKeys = strings.Split(envKeys, ",")
		} else {
			apiKeys = []string{""}
		}
	}
	return &Client{
		baseURL:        baseURL,
		pool:           NewHTTPClientPool(4, timeout),
		apiKeys:        apiKeys,
		retry:          retry.Default,
		permits:        permits,
		minSellAmounts: minSellAmounts,
	}
}

func (c *Client) getAPIKey() string {
	idx := c.keyIdx.Add(1) % uint32(len(c.apiKeys))
	return c.apiKeys[idx]
}

// PermitContract returns the allowance target contract for a network.
func (c *Client) PermitContract(network token.NetworkKey) (common.Address, bool) {
	addr, ok := c.permits[network]
	return addr, ok
}

// MinSellAmount returns the advisory minimum sell size for a network, nil if
// none is configured.
func (c *Client) MinSellAmount(network token.NetworkKey) *big.Int {
	return c.minSellAmounts[network]
}

type quoteResponse struct {
	To              string `json:"to"`
	Data            string `json:"data"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	AllowanceTarget string `json:"allowanceTarget"`
	BuyAmount       string `json:"buyAmount"`
	MinBuyAmount    string `json:"minBuyAmount"`
}

// GetQuote fetches an executable swap quote. Native sells carry the sentinel
// contract address and a non-zero Value instead of needing an allowance.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.SellAmountRaw == nil || req.SellAmountRaw.Sign() <= 0 {
		return nil, errs.New(errs.SwapQuoteFailed, "sell amount must be positive")
	}

	var quote *Quote
	err := c.retry.Do(ctx, "aggregator quote", func(ctx context.Context) error {
		q, err := c.fetchQuote(ctx, req)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, errs.From(err).WithContext(errs.Context{Network: string(req.Network)})
	}
	return quote, nil
}

func (c *Client) fetchQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	start := time.Now()

	params := url.Values{}
	params.Set("chainId", fmt.Sprintf("%d", req.ChainID))
	params.Set("sellToken", req.SellContract)
	params.Set("buyToken", req.BuyContract)
	params.Set("sellAmount", req.SellAmountRaw.String())
	params.Set("taker", req.WalletAddress.Hex())
	params.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/swap/v1/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.SwapQuoteFailed, err, "create quote request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if key := c.getAPIKey(); key != "" {
		httpReq.Header.Set("x-api-key", key)
	}

	resp, err := c.pool.Get().Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.SwapQuoteFailed, err, "aggregator unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, classifyQuoteError(resp.StatusCode, string(body))
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, errs.Wrap(errs.SwapQuoteFailed, err, "decode quote")
	}
	quote, err := qr.toQuote()
	if err != nil {
		return nil, err
	}

	log.Debug().
		Dur("latency", time.Since(start)).
		Str("network", string(req.Network)).
		Str("sellAmount", req.SellAmountRaw.String()).
		Str("buyAmount", bigString(quote.BuyAmountHintRaw)).
		Msg("aggregator quote")
	return quote, nil
}

func (qr quoteResponse) toQuote() (*Quote, error) {
	if qr.To == "" || qr.Data == "" {
		return nil, errs.New(errs.SwapQuoteFailed, "quote response missing transaction fields")
	}
	data, err := decodeHex(qr.Data)
	if err != nil {
		return nil, errs.Wrap(errs.SwapQuoteFailed, err, "malformed quote calldata")
	}
	q := &Quote{
		To:               common.HexToAddress(qr.To),
		Data:             data,
		Value:            parseBig(qr.Value),
		Spender:          common.HexToAddress(qr.AllowanceTarget),
		BuyAmountHintRaw: parseBig(qr.BuyAmount),
		MinBuyAmountRaw:  parseBig(qr.MinBuyAmount),
	}
	if gas := parseBig(qr.Gas); gas != nil {
		q.GasHint = gas.Uint64()
	}
	return q, nil
}

// classifyQuoteError maps aggregator failures onto the error taxonomy. Rate
// limits and server-side failures are retriable; liquidity and slippage
// responses are final.
func classifyQuoteError(status int, body string) *errs.Error {
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusTooManyRequests:
		return errs.New(errs.APIRateLimited, "aggregator rate limited")
	case strings.Contains(lower, "insufficient liquidity") || strings.Contains(lower, "no route"):
		return errs.New(errs.InsufficientLiquidity, "aggregator found no route with enough liquidity")
	case strings.Contains(lower, "slippage"):
		return errs.New(errs.SlippageTooHigh, "aggregator rejected the slippage tolerance")
	case status >= 500:
		return errs.Newf(errs.SwapQuoteFailed, "aggregator returned %d", status)
	}
	return errs.Newf(errs.SwapQuoteFailed, "aggregator rejected the quote (%d): %s", status, body)
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func parseBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

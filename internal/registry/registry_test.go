package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/token"
)

func TestMetadataLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "LINK" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"symbol":"LINK","network":"ethereum","address":"0x514910771AF9Ca656af840dff83E8264EcF986CA","decimals":18},
			{"symbol":"LINK","network":"base","address":"0x88Fb150BDc53A65fe94Dea0c9BA0a6dAf8C6e196","decimals":18}
		]`))
	}))
	defer srv.Close()

	c := NewMetadataClient(srv.URL, "test-key", time.Second)
	got, err := c.LookupTokenBindings(context.Background(), "LINK")
	if err != nil {
		t.Fatalf("LookupTokenBindings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(got))
	}
	if got[0].Source != token.SourceRegistry || !got[0].Verified {
		t.Errorf("registry bindings must be verified registry-source, got %+v", got[0])
	}
	if got[1].Network != "base" {
		t.Errorf("wrong network: %v", got[1].Network)
	}
}

func TestMetadataLookupMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewMetadataClient(srv.URL, "", time.Second)
	got, err := c.LookupTokenBindings(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("a 404 is a clean miss, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no bindings, got %d", len(got))
	}
}

func TestMetadataLookupRetriesServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"symbol":"LINK","network":"base","address":"0xabc","decimals":18}]`))
	}))
	defer srv.Close()

	c := NewMetadataClient(srv.URL, "", time.Second)
	c.retry = c.retry.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	got, err := c.LookupTokenBindings(context.Background(), "LINK")
	if err != nil {
		t.Fatalf("expected recovery on third attempt: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 binding, got %d", len(got))
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestMetadataLookupRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewMetadataClient(srv.URL, "", time.Second)
	c.retry = c.retry.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	_, err := c.LookupTokenBindings(context.Background(), "LINK")
	if errs.CodeOf(err) != errs.APIRateLimited {
		t.Errorf("expected API_RATE_LIMITED, got %v", err)
	}
}

func TestListingLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pairs":[
			{"chainId":"base","baseToken":{"address":"0xToken1","symbol":"PEPE","decimals":18},"liquidity":{"usd":250000}},
			{"chainId":"arbitrum","baseToken":{"address":"0xToken2","symbol":"PEPE","decimals":18},"liquidity":{"usd":900}},
			{"chainId":"base","baseToken":{"address":"0xOther","symbol":"WETH","decimals":18},"liquidity":{"usd":9000000}}
		]}`))
	}))
	defer srv.Close()

	c := NewListingClient(srv.URL, 10_000, time.Second)
	got, err := c.LookupTokenBindings(context.Background(), "pepe")
	if err != nil {
		t.Fatalf("LookupTokenBindings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bindings (quote-side WETH excluded), got %d", len(got))
	}
	if !got[0].Verified {
		t.Error("pair above liquidity threshold must be verified")
	}
	if got[1].Verified {
		t.Error("pair below liquidity threshold must stay unverified")
	}
	if got[0].Source != token.SourceDexListing {
		t.Errorf("wrong source: %v", got[0].Source)
	}
}

func TestListingLookupUnreachable(t *testing.T) {
	c := NewListingClient("http://127.0.0.1:1", 10_000, 200*time.Millisecond)
	c.retry = c.retry.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	_, err := c.LookupTokenBindings(context.Background(), "PEPE")
	if errs.CodeOf(err) != errs.PriceDataUnavailable {
		t.Errorf("expected PRICE_DATA_UNAVAILABLE, got %v", err)
	}
}

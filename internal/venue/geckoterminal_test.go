package venue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGeckoterminalUnknownNetwork(t *testing.T) {
	g := NewGeckoterminal(GeckoterminalOptions{}, nil, noopLogger())
	if _, err := g.FetchPrice(context.Background(), "WETH", "unknown-chain"); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("unknown network should yield ErrNotAvailable, got %v", err)
	}
}

func TestGeckoterminalSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("network") != "eth" {
			t.Fatalf("expected network=eth, got %s", r.URL.Query().Get("network"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id": "eth_0xabc",
					"attributes": map[string]any{
						"name":                 "WETH / USDC 0.05%",
						"base_token_price_usd": "1998.42",
						"reserve_in_usd":       "1200000.55",
						"volume_usd":           map[string]string{"h24": "340000"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	g := NewGeckoterminal(GeckoterminalOptions{BaseURL: srv.URL, Timeout: time.Second}, obs, noopLogger())

	quote, err := g.FetchPrice(context.Background(), "WETH", "ethereum")
	if err != nil {
		t.Fatalf("successful response must not error: %v", err)
	}
	if !quote.PriceUSD.Equal(decimal.NewFromFloat(1998.42)) {
		t.Fatalf("unexpected price %s", quote.PriceUSD)
	}
	if quote.Volume24h == nil || !quote.Volume24h.Equal(decimal.NewFromInt(340000)) {
		t.Fatalf("volume not normalized: %v", quote.Volume24h)
	}
	if quote.Slippage1k != nil {
		t.Fatal("slippage tiers are not supplied by this venue and must stay unset")
	}
	if obs.successes != 1 {
		t.Fatal("success must be reported")
	}
}

func TestGeckoterminalNoMatchingPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id": "eth_0xdef",
					"attributes": map[string]any{
						"name":                 "PEPE / WETH",
						"base_token_price_usd": "0.0000012",
					},
				},
			},
		})
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	g := NewGeckoterminal(GeckoterminalOptions{BaseURL: srv.URL, Timeout: time.Second}, obs, noopLogger())

	if _, err := g.FetchPrice(context.Background(), "WETH", "ethereum"); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("no matching pool should yield ErrNotAvailable, got %v", err)
	}
	if obs.failures != 1 {
		t.Fatal("failure must be reported")
	}
}

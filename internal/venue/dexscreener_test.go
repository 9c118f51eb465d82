package venue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type recordingObserver struct {
	successes int
	failures  int
	latencies []float64
}

func (r *recordingObserver) RecordObservation(_ context.Context, _, _ string, success bool, latency float64) {
	if success {
		r.successes++
	} else {
		r.failures++
	}
	r.latencies = append(r.latencies, latency)
}

func TestDexscreenerMissingAsset(t *testing.T) {
	d := NewDexscreener(DexscreenerOptions{}, nil, noopLogger())
	if _, err := d.FetchPrice(context.Background(), "", "ethereum"); err == nil {
		t.Fatal("empty asset must be rejected before any network call")
	}
}

func TestDexscreenerUnsupportedChain(t *testing.T) {
	d := NewDexscreener(DexscreenerOptions{Chains: []string{"ethereum"}}, nil, noopLogger())
	if _, err := d.FetchPrice(context.Background(), "WETH", "osmosis"); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("unsupported chain should yield ErrNotAvailable, got %v", err)
	}
}

func TestDexscreenerHTTPErrorReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	d := NewDexscreener(DexscreenerOptions{BaseURL: srv.URL, Timeout: time.Second}, obs, noopLogger())

	if _, err := d.FetchPrice(context.Background(), "WETH", "ethereum"); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("HTTP 500 should yield ErrNotAvailable, got %v", err)
	}
	if obs.failures != 1 {
		t.Fatalf("failure must be reported to the observer, got %d", obs.failures)
	}
	if len(obs.latencies) != 1 {
		t.Fatal("latency must be recorded for failed attempts too")
	}
}

func TestDexscreenerPicksDeepestPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pairs": []map[string]any{
				{
					"chainId":   "ethereum",
					"dexId":     "sushiswap",
					"priceUsd":  "2001.5",
					"baseToken": map[string]string{"symbol": "WETH"},
					"volume":    map[string]float64{"h24": 1000},
					"liquidity": map[string]float64{"usd": 50000},
				},
				{
					"chainId":   "ethereum",
					"dexId":     "uniswap",
					"priceUsd":  "2000.1",
					"baseToken": map[string]string{"symbol": "WETH"},
					"volume":    map[string]float64{"h24": 90000},
					"liquidity": map[string]float64{"usd": 900000},
				},
				{
					"chainId":   "bsc",
					"dexId":     "pancake",
					"priceUsd":  "1999.0",
					"baseToken": map[string]string{"symbol": "WETH"},
				},
			},
		})
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	d := NewDexscreener(DexscreenerOptions{BaseURL: srv.URL, Timeout: time.Second}, obs, noopLogger())

	quote, err := d.FetchPrice(context.Background(), "WETH", "ethereum")
	if err != nil {
		t.Fatalf("successful response must not error: %v", err)
	}
	if !quote.PriceUSD.Equal(decimal.NewFromFloat(2000.1)) {
		t.Fatalf("expected the deepest pair's price, got %s", quote.PriceUSD)
	}
	if quote.Liquidity == nil || !quote.Liquidity.Equal(decimal.NewFromInt(900000)) {
		t.Fatalf("liquidity not normalized: %v", quote.Liquidity)
	}
	if quote.FeePercent != nil {
		t.Fatal("fee is unknown for this venue and must stay unset")
	}
	if len(quote.Raw) == 0 {
		t.Fatal("raw payload should be retained")
	}
	if obs.successes != 1 {
		t.Fatalf("success must be reported, got %d", obs.successes)
	}
}

func TestDexscreenerNoMatchingPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"pairs": []map[string]any{}})
	}))
	defer srv.Close()

	d := NewDexscreener(DexscreenerOptions{BaseURL: srv.URL, Timeout: time.Second}, nil, noopLogger())
	if _, err := d.FetchPrice(context.Background(), "WETH", "ethereum"); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("empty result should yield ErrNotAvailable, got %v", err)
	}
}

package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexwatch/internal/market"
	"dexwatch/internal/ratelimit"
)

const geckoterminalID = "geckoterminal"

// geckoterminal network slugs differ from our canonical chain ids.
var geckoNetworks = map[string]string{
	"ethereum": "eth",
	"bsc":      "bsc",
	"polygon":  "polygon_pos",
	"arbitrum": "arbitrum",
	"solana":   "solana",
}

// GeckoterminalOptions parameterise the GeckoTerminal adapter.
type GeckoterminalOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Chains    []string
	Limiter   *ratelimit.Limiter
}

// Geckoterminal reads pool data from the GeckoTerminal public API. The
// venue supplies price, volume, and pool reserve but no slippage tiers.
type Geckoterminal struct {
	opts     GeckoterminalOptions
	observer Observer
	logger   zerolog.Logger
	client   *http.Client
	baseURL  string
}

// NewGeckoterminal constructs a GeckoTerminal adapter.
func NewGeckoterminal(opts GeckoterminalOptions, observer Observer, logger zerolog.Logger) *Geckoterminal {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.geckoterminal.com/api/v2"
	}

	if len(opts.Chains) == 0 {
		opts.Chains = []string{"ethereum", "bsc", "polygon", "arbitrum", "solana"}
	}

	return &Geckoterminal{
		opts:     opts,
		observer: observer,
		logger:   logger.With().Str("component", "venue_geckoterminal").Logger(),
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
	}
}

// ID implements Adapter.
func (g *Geckoterminal) ID() string { return geckoterminalID }

// Chains implements Adapter.
func (g *Geckoterminal) Chains() []string { return g.opts.Chains }

// FetchPrice searches pools for the asset on the requested network and
// normalizes the deepest pool into a quote.
func (g *Geckoterminal) FetchPrice(ctx context.Context, assetID, chainID string) (market.PriceQuote, error) {
	if assetID == "" {
		return market.PriceQuote{}, errors.New("assetID is required")
	}
	network, ok := geckoNetworks[chainID]
	if !ok || !supportsChain(g.opts.Chains, chainID) {
		return market.PriceQuote{}, ErrNotAvailable
	}

	if g.opts.Limiter != nil {
		if err := g.opts.Limiter.Wait(ctx); err != nil {
			return market.PriceQuote{}, ErrNotAvailable
		}
	}

	start := time.Now()
	pool, raw, err := g.searchPools(ctx, assetID, network)
	if err != nil {
		observe(ctx, g.observer, geckoterminalID, chainID, start, false)
		g.logger.Warn().Err(err).Str("asset", assetID).Str("chain", chainID).Msg("geckoterminal fetch failed")
		return market.PriceQuote{}, ErrNotAvailable
	}

	price, err := decimal.NewFromString(pool.Attributes.BaseTokenPriceUSD)
	if err != nil {
		observe(ctx, g.observer, geckoterminalID, chainID, start, false)
		return market.PriceQuote{}, ErrNotAvailable
	}
	observe(ctx, g.observer, geckoterminalID, chainID, start, true)

	quote := market.PriceQuote{
		AssetID:    assetID,
		ChainID:    chainID,
		VenueID:    geckoterminalID,
		PriceUSD:   price,
		ObservedAt: time.Now().UTC(),
		Raw:        raw,
	}
	if pool.Attributes.VolumeUSD.H24 != "" {
		if volume, convErr := decimal.NewFromString(pool.Attributes.VolumeUSD.H24); convErr == nil {
			quote.Volume24h = &volume
		}
	}
	if pool.Attributes.ReserveInUSD != "" {
		if reserve, convErr := decimal.NewFromString(pool.Attributes.ReserveInUSD); convErr == nil {
			quote.Liquidity = &reserve
		}
	}
	return quote, nil
}

func (g *Geckoterminal) searchPools(ctx context.Context, assetID, network string) (geckoPool, json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/search/pools?query=%s&network=%s", g.baseURL, url.QueryEscape(assetID), url.QueryEscape(network))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return geckoPool{}, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return geckoPool{}, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return geckoPool{}, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return geckoPool{}, nil, fmt.Errorf("geckoterminal status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return geckoPool{}, nil, err
	}

	for _, rawPool := range payload.Data {
		var pool geckoPool
		if err := json.Unmarshal(rawPool, &pool); err != nil {
			continue
		}
		symbol := baseSymbol(pool.Attributes.Name)
		if strings.EqualFold(symbol, assetID) && pool.Attributes.BaseTokenPriceUSD != "" {
			return pool, rawPool, nil
		}
	}
	return geckoPool{}, nil, fmt.Errorf("no pool found for %s on %s", assetID, network)
}

// baseSymbol extracts the base token symbol from a pool name like
// "WETH / USDC 0.05%".
func baseSymbol(name string) string {
	parts := strings.SplitN(name, "/", 2)
	return strings.TrimSpace(parts[0])
}

type geckoPool struct {
	ID         string `json:"id"`
	Attributes struct {
		Name              string `json:"name"`
		BaseTokenPriceUSD string `json:"base_token_price_usd"`
		ReserveInUSD      string `json:"reserve_in_usd"`
		VolumeUSD         struct {
			H24 string `json:"h24"`
		} `json:"volume_usd"`
	} `json:"attributes"`
}

var _ Adapter = (*Geckoterminal)(nil)

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

const dexscreenerID = "dexscreener"

// DexscreenerOptions parameterise the DEX Screener adapter.
type DexscreenerOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Chains    []string
	Limiter   *ratelimit.Limiter
}

// Dexscreener aggregates DEX pair data across many chains via the DEX
// Screener search API.
type Dexscreener struct {
	opts     DexscreenerOptions
	observer Observer
	logger   zerolog.Logger
	client   *http.Client
	baseURL  string
}

// NewDexscreener constructs a DEX Screener adapter.
func NewDexscreener(opts DexscreenerOptions, observer Observer, logger zerolog.Logger) *Dexscreener {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	if len(opts.Chains) == 0 {
		opts.Chains = []string{"ethereum", "bsc", "polygon", "arbitrum", "solana"}
	}

	return &Dexscreener{
		opts:     opts,
		observer: observer,
		logger:   logger.With().Str("component", "venue_dexscreener").Logger(),
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
	}
}

// ID implements Adapter.
func (d *Dexscreener) ID() string { return dexscreenerID }

// Chains implements Adapter.
func (d *Dexscreener) Chains() []string { return d.opts.Chains }

// FetchPrice retrieves the deepest-liquidity pair for the asset on the
// requested chain.
func (d *Dexscreener) FetchPrice(ctx context.Context, assetID, chainID string) (market.PriceQuote, error) {
	if assetID == "" {
		return market.PriceQuote{}, errors.New("assetID is required")
	}
	if !supportsChain(d.opts.Chains, chainID) {
		return market.PriceQuote{}, ErrNotAvailable
	}

	if d.opts.Limiter != nil {
		if err := d.opts.Limiter.Wait(ctx); err != nil {
			return market.PriceQuote{}, ErrNotAvailable
		}
	}

	start := time.Now()
	payload, err := d.search(ctx, assetID)
	if err != nil {
		observe(ctx, d.observer, dexscreenerID, chainID, start, false)
		d.logger.Warn().Err(err).Str("asset", assetID).Str("chain", chainID).Msg("dexscreener fetch failed")
		return market.PriceQuote{}, ErrNotAvailable
	}

	pair, raw, ok := bestPair(payload, assetID, chainID)
	if !ok {
		observe(ctx, d.observer, dexscreenerID, chainID, start, false)
		return market.PriceQuote{}, ErrNotAvailable
	}

	price, err := decimal.NewFromString(pair.PriceUSD)
	if err != nil {
		observe(ctx, d.observer, dexscreenerID, chainID, start, false)
		d.logger.Warn().Err(err).Str("asset", assetID).Msg("dexscreener returned unparseable price")
		return market.PriceQuote{}, ErrNotAvailable
	}
	observe(ctx, d.observer, dexscreenerID, chainID, start, true)

	quote := market.PriceQuote{
		AssetID:    assetID,
		ChainID:    chainID,
		VenueID:    dexscreenerID,
		PriceUSD:   price,
		ObservedAt: time.Now().UTC(),
		Raw:        raw,
	}
	if pair.Volume.H24 > 0 {
		volume := decimal.NewFromFloat(pair.Volume.H24)
		quote.Volume24h = &volume
	}
	if pair.Liquidity != nil && pair.Liquidity.USD > 0 {
		liquidity := decimal.NewFromFloat(pair.Liquidity.USD)
		quote.Liquidity = &liquidity
	}
	return quote, nil
}

func (d *Dexscreener) search(ctx context.Context, assetID string) (*dexscreenerSearchResponse, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/search?q=%s", d.baseURL, url.QueryEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload dexscreenerSearchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func bestPair(payload *dexscreenerSearchResponse, assetID, chainID string) (dexscreenerPair, json.RawMessage, bool) {
	var best dexscreenerPair
	var bestRaw json.RawMessage
	found := false
	for i, pair := range payload.Pairs {
		if pair.ChainID != chainID {
			continue
		}
		if !strings.EqualFold(pair.BaseToken.Symbol, assetID) {
			continue
		}
		if pair.PriceUSD == "" {
			continue
		}
		liquidity := 0.0
		if pair.Liquidity != nil {
			liquidity = pair.Liquidity.USD
		}
		bestLiquidity := 0.0
		if found && best.Liquidity != nil {
			bestLiquidity = best.Liquidity.USD
		}
		if !found || liquidity > bestLiquidity {
			best = pair
			bestRaw = payload.rawPairs[i]
			found = true
		}
	}
	return best, bestRaw, found
}

type dexscreenerSearchResponse struct {
	Pairs []dexscreenerPair `json:"pairs"`

	rawPairs []json.RawMessage
}

// UnmarshalJSON keeps the raw pair payloads alongside the typed view so the
// selected pair can be stored verbatim.
func (r *dexscreenerSearchResponse) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Pairs []json.RawMessage `json:"pairs"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	r.rawPairs = envelope.Pairs
	r.Pairs = make([]dexscreenerPair, len(envelope.Pairs))
	for i, raw := range envelope.Pairs {
		if err := json.Unmarshal(raw, &r.Pairs[i]); err != nil {
			return err
		}
	}
	return nil
}

type dexscreenerPair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	PriceUSD  string `json:"priceUsd"`
	BaseToken struct {
		Symbol string `json:"symbol"`
	} `json:"baseToken"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

var _ Adapter = (*Dexscreener)(nil)

package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexwatch/internal/market"
	"dexwatch/internal/pricecache"
	"dexwatch/internal/venue"
)

type fakeAdapter struct {
	id     string
	chains []string
	price  decimal.Decimal
	mutate func(q *market.PriceQuote)
	err    error
}

func (f *fakeAdapter) ID() string       { return f.id }
func (f *fakeAdapter) Chains() []string { return f.chains }

func (f *fakeAdapter) FetchPrice(_ context.Context, assetID, chainID string) (market.PriceQuote, error) {
	if f.err != nil {
		return market.PriceQuote{}, f.err
	}
	quote := market.PriceQuote{
		AssetID:    assetID,
		ChainID:    chainID,
		VenueID:    f.id,
		PriceUSD:   f.price,
		ObservedAt: time.Now().UTC(),
	}
	if f.mutate != nil {
		f.mutate(&quote)
	}
	return quote, nil
}

type fixedScores map[string]float64

func (f fixedScores) Score(_ context.Context, venueID, _ string) float64 {
	if score, ok := f[venueID]; ok {
		return score
	}
	return 100
}

func newService(t *testing.T, scores fixedScores, adapters ...venue.Adapter) *Service {
	t.Helper()
	cache := pricecache.New(nil, time.Minute, zerolog.Nop())
	return New(adapters, cache, scores, DefaultMinReliability, zerolog.Nop())
}

func TestGetAllPricesRequiresAsset(t *testing.T) {
	svc := newService(t, fixedScores{})
	_, err := svc.GetAllPrices(context.Background(), "", "", "")
	require.Error(t, err)
}

func TestGetAllPricesCollectsAllAndDiscardsUnavailable(t *testing.T) {
	healthy := &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, price: decimal.NewFromInt(100)}
	broken := &fakeAdapter{id: "geckoterminal", chains: []string{"ethereum"}, err: venue.ErrNotAvailable}
	svc := newService(t, fixedScores{"dexscreener": 92.5}, healthy, broken)

	quotes, err := svc.GetAllPrices(context.Background(), "WETH", "", "")
	require.NoError(t, err, "one venue failing must not fail the whole fan-out")
	require.Len(t, quotes, 1)
	assert.Equal(t, "dexscreener", quotes[0].VenueID)
	assert.Equal(t, 92.5, quotes[0].ReliabilityScore, "reliability score must be stamped")
}

func TestGetAllPricesMergesCachedQuotes(t *testing.T) {
	live := &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, price: decimal.NewFromInt(100)}
	cache := pricecache.New(nil, time.Minute, zerolog.Nop())
	svc := New([]venue.Adapter{live}, cache, fixedScores{}, DefaultMinReliability, zerolog.Nop())

	require.NoError(t, cache.Upsert(context.Background(), market.PriceQuote{
		AssetID:    "WETH",
		ChainID:    "polygon",
		VenueID:    "geckoterminal",
		PriceUSD:   decimal.NewFromInt(99),
		ObservedAt: time.Now().UTC(),
	}))

	quotes, err := svc.GetAllPrices(context.Background(), "WETH", "", "")
	require.NoError(t, err)
	require.Len(t, quotes, 2, "cached quote from a venue that did not answer live must be merged in")
}

func TestGetAllPricesNoQuotes(t *testing.T) {
	broken := &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, err: venue.ErrNotAvailable}
	svc := newService(t, fixedScores{}, broken)

	_, err := svc.GetAllPrices(context.Background(), "NOPE", "", "")
	require.ErrorIs(t, err, ErrNoQuotes)
}

func TestGetBestPriceRanksByRawPrice(t *testing.T) {
	low := &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, price: decimal.NewFromInt(100)}
	high := &fakeAdapter{id: "geckoterminal", chains: []string{"ethereum"}, price: decimal.NewFromInt(104)}
	svc := newService(t, fixedScores{}, low, high)

	result, err := svc.GetBestPrice(context.Background(), "WETH", "", "", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "geckoterminal", result.Best.VenueID)
	require.Len(t, result.All, 2)

	// (104-100)/104*100
	expected := decimal.NewFromInt(4).Div(decimal.NewFromInt(104)).Mul(decimal.NewFromInt(100))
	assert.True(t, result.SpreadPercent.Equal(expected), "spread was %s", result.SpreadPercent)
}

func TestGetBestPriceFiltersUnreliableVenues(t *testing.T) {
	trusted := &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, price: decimal.NewFromInt(100)}
	flaky := &fakeAdapter{id: "geckoterminal", chains: []string{"ethereum"}, price: decimal.NewFromInt(110)}
	svc := newService(t, fixedScores{"dexscreener": 95, "geckoterminal": 55}, trusted, flaky)

	result, err := svc.GetBestPrice(context.Background(), "WETH", "", "", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "dexscreener", result.Best.VenueID, "higher price from an unreliable venue must lose")
	assert.Len(t, result.All, 1)
}

func TestGetBestPriceFallsBackWhenAllUnreliable(t *testing.T) {
	flaky := &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, price: decimal.NewFromInt(100)}
	svc := newService(t, fixedScores{"dexscreener": 10}, flaky)

	result, err := svc.GetBestPrice(context.Background(), "WETH", "", "", decimal.Zero)
	require.NoError(t, err, "filtering must never turn a populated result into an error")
	assert.Equal(t, "dexscreener", result.Best.VenueID)
}

func TestGetBestPriceUsesSlippageAdjustedRanking(t *testing.T) {
	slip := decimal.NewFromInt(3)
	shallow := &fakeAdapter{
		id: "dexscreener", chains: []string{"ethereum"}, price: decimal.NewFromFloat(100.5),
		mutate: func(q *market.PriceQuote) { q.Slippage1k = &slip },
	}
	// No liquidity data: flat 1% slippage assumption.
	deep := &fakeAdapter{id: "geckoterminal", chains: []string{"ethereum"}, price: decimal.NewFromInt(100)}
	svc := newService(t, fixedScores{}, shallow, deep)

	raw, err := svc.GetBestPrice(context.Background(), "WETH", "", "", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "dexscreener", raw.Best.VenueID, "raw ranking ignores slippage")

	// 100.5*(1-0.03)=97.485 vs 100*(1-0.01)=99
	sized, err := svc.GetBestPrice(context.Background(), "WETH", "", "", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "geckoterminal", sized.Best.VenueID, "sized ranking must account for slippage")
}

func TestGetBestPriceRejectsNegativeAmount(t *testing.T) {
	svc := newService(t, fixedScores{}, &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, price: decimal.NewFromInt(1)})
	_, err := svc.GetBestPrice(context.Background(), "WETH", "", "", decimal.NewFromInt(-5))
	require.Error(t, err)
}

func TestEstimateSlippageTiersAndFallbacks(t *testing.T) {
	tier1k := decimal.NewFromFloat(0.5)
	tier10k := decimal.NewFromInt(2)
	tier100k := decimal.NewFromInt(6)
	liquidity := decimal.NewFromInt(50_000)

	tiered := market.PriceQuote{Slippage1k: &tier1k, Slippage10k: &tier10k, Slippage100k: &tier100k}
	assert.True(t, estimateSlippage(tiered, decimal.NewFromInt(800)).Equal(tier1k))
	assert.True(t, estimateSlippage(tiered, decimal.NewFromInt(5_000)).Equal(tier10k))
	assert.True(t, estimateSlippage(tiered, decimal.NewFromInt(250_000)).Equal(tier100k))

	ratio := market.PriceQuote{Liquidity: &liquidity}
	// 5000/50000*100 = 10... use 1000: 1000/50000*100 = 2
	assert.True(t, estimateSlippage(ratio, decimal.NewFromInt(1_000)).Equal(decimal.NewFromInt(2)))
	assert.True(t, estimateSlippage(ratio, decimal.NewFromInt(1_000_000)).Equal(maxSlippage), "liquidity ratio is capped at 10%%")

	blind := market.PriceQuote{}
	assert.True(t, estimateSlippage(blind, decimal.NewFromInt(1_000)).Equal(flatSlippage))
}

func TestTriggerRefreshInvalidatesAndEnqueues(t *testing.T) {
	cache := pricecache.New(nil, time.Minute, zerolog.Nop())
	svc := New(nil, cache, fixedScores{}, DefaultMinReliability, zerolog.Nop())

	require.NoError(t, cache.Upsert(context.Background(), market.PriceQuote{
		AssetID: "WETH", ChainID: "ethereum", VenueID: "dexscreener",
		PriceUSD: decimal.NewFromInt(100), ObservedAt: time.Now().UTC(),
	}))

	var enqueued []string
	svc.SetRefreshHook(func(assetID string) { enqueued = append(enqueued, assetID) })

	svc.TriggerRefresh("WETH")
	assert.Equal(t, []string{"WETH"}, enqueued)

	quotes, err := cache.Get(context.Background(), "WETH", "", "")
	require.NoError(t, err)
	assert.Empty(t, quotes, "cache must be busted on manual refresh")
}

func TestRefreshSwallowsNoQuotes(t *testing.T) {
	svc := newService(t, fixedScores{}, &fakeAdapter{id: "dexscreener", chains: []string{"ethereum"}, err: errors.New("boom")})
	// Must not panic or error out; background refreshes tolerate empty results.
	svc.Refresh(context.Background(), "GHOST")
}

package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexwatch/internal/market"
)

type fakePriceStore struct {
	quotes  []market.PriceQuote
	history []market.PriceQuote
}

func (f *fakePriceStore) UpsertQuote(_ context.Context, quote market.PriceQuote) error {
	f.quotes = append(f.quotes, quote)
	return nil
}

func (f *fakePriceStore) ListQuotes(_ context.Context, assetID, chainID, venueID string) ([]market.PriceQuote, error) {
	matched := make([]market.PriceQuote, 0)
	for _, quote := range f.quotes {
		if quote.AssetID != assetID {
			continue
		}
		if chainID != "" && quote.ChainID != chainID {
			continue
		}
		if venueID != "" && quote.VenueID != venueID {
			continue
		}
		matched = append(matched, quote)
	}
	return matched, nil
}

func (f *fakePriceStore) ListQuoteHistory(_ context.Context, assetID string, from, to time.Time) ([]market.PriceQuote, error) {
	matched := make([]market.PriceQuote, 0)
	for _, quote := range f.history {
		if quote.AssetID == assetID && !quote.ObservedAt.Before(from) && quote.ObservedAt.Before(to) {
			matched = append(matched, quote)
		}
	}
	return matched, nil
}

func (f *fakePriceStore) DistinctAssets(context.Context) ([]string, error) {
	return nil, nil
}

func liquidQuote(assetID, chainID, venueID string, price, liquidity float64) market.PriceQuote {
	q := market.PriceQuote{
		AssetID:    assetID,
		ChainID:    chainID,
		VenueID:    venueID,
		PriceUSD:   decimal.NewFromFloat(price),
		ObservedAt: time.Now().UTC(),
	}
	if liquidity > 0 {
		liq := decimal.NewFromFloat(liquidity)
		q.Liquidity = &liq
	}
	return q
}

func TestLiquidityDepthShares(t *testing.T) {
	store := &fakePriceStore{quotes: []market.PriceQuote{
		liquidQuote("WETH", "ethereum", "dexscreener", 100, 600_000),
		liquidQuote("WETH", "polygon", "geckoterminal", 100, 400_000),
	}}
	svc := New(store, nil, zerolog.Nop())

	report, err := svc.LiquidityDepth(context.Background(), "WETH")
	require.NoError(t, err)

	assert.True(t, report.TotalLiquidityUSD.Equal(decimal.NewFromInt(1_000_000)))
	require.Len(t, report.ByVenue, 2)
	assert.Equal(t, "dexscreener", report.ByVenue[0].Key, "deepest venue first")
	assert.True(t, report.ByVenue[0].SharePercent.Equal(decimal.NewFromInt(60)))
	assert.True(t, report.ByVenue[1].SharePercent.Equal(decimal.NewFromInt(40)))
	require.Len(t, report.ByChain, 2)
	assert.Equal(t, "ethereum", report.ByChain[0].Key)

	// $10k into $600k is a 1.666..% impact
	expected := decimal.NewFromInt(10_000).Div(decimal.NewFromInt(600_000)).Mul(decimal.NewFromInt(100))
	assert.True(t, report.ByVenue[0].Impact10k.Equal(expected))
}

func TestLiquidityDepthNoLiquidity(t *testing.T) {
	store := &fakePriceStore{quotes: []market.PriceQuote{
		liquidQuote("WETH", "ethereum", "dexscreener", 100, 0),
	}}
	svc := New(store, nil, zerolog.Nop())

	_, err := svc.LiquidityDepth(context.Background(), "WETH")
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestPriceImpactPrefersLiquidityRatio(t *testing.T) {
	store := &fakePriceStore{quotes: []market.PriceQuote{
		liquidQuote("WETH", "ethereum", "dexscreener", 100, 500_000),
	}}
	svc := New(store, nil, zerolog.Nop())

	estimate, err := svc.PriceImpact(context.Background(), "WETH", "ethereum", "dexscreener", decimal.NewFromInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, "liquidity-ratio", estimate.Method)
	assert.True(t, estimate.ImpactPercent.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, BucketMedium, estimate.Bucket)
}

func TestPriceImpactStaticTableFallback(t *testing.T) {
	store := &fakePriceStore{quotes: []market.PriceQuote{
		liquidQuote("WETH", "ethereum", "dexscreener", 100, 0),
	}}
	svc := New(store, nil, zerolog.Nop())

	estimate, err := svc.PriceImpact(context.Background(), "WETH", "ethereum", "dexscreener", decimal.NewFromInt(500_000))
	require.NoError(t, err)
	assert.Equal(t, "static-table", estimate.Method)
	assert.Equal(t, BucketWhale, estimate.Bucket)
	assert.True(t, estimate.ImpactPercent.Equal(decimal.NewFromFloat(5.0)))

	// Unknown venues fall back to the shared default row.
	unknown, err := svc.PriceImpact(context.Background(), "WETH", "ethereum", "mystery-dex", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, unknown.ImpactPercent.Equal(decimal.NewFromFloat(0.2)))
}

func TestPriceImpactValidation(t *testing.T) {
	svc := New(&fakePriceStore{}, nil, zerolog.Nop())

	_, err := svc.PriceImpact(context.Background(), "", "", "dexscreener", decimal.NewFromInt(1))
	require.Error(t, err)
	_, err = svc.PriceImpact(context.Background(), "WETH", "", "dexscreener", decimal.Zero)
	require.Error(t, err)
}

func TestHistoricalAnalytics(t *testing.T) {
	now := time.Now().UTC()
	h1 := now.Add(-2 * time.Hour)
	h2 := now.Add(-1 * time.Hour)

	hist := func(venueID string, price float64, at time.Time) market.PriceQuote {
		return market.PriceQuote{
			AssetID:    "WETH",
			ChainID:    "ethereum",
			VenueID:    venueID,
			PriceUSD:   decimal.NewFromFloat(price),
			ObservedAt: at,
		}
	}
	store := &fakePriceStore{history: []market.PriceQuote{
		hist("dexscreener", 100, h1),
		hist("geckoterminal", 104, h1),
		hist("dexscreener", 100, h2),
		hist("geckoterminal", 102, h2),
	}}
	svc := New(store, nil, zerolog.Nop())

	report, err := svc.HistoricalAnalytics(context.Background(), "WETH", 6*time.Hour)
	require.NoError(t, err)

	require.Len(t, report.Buckets, 2)
	spread1 := decimal.NewFromInt(4).Div(decimal.NewFromInt(104)).Mul(decimal.NewFromInt(100))
	assert.True(t, report.Buckets[0].SpreadPercent.Equal(spread1), "first bucket spread was %s", report.Buckets[0].SpreadPercent)
	assert.True(t, report.MaxSpreadPercent.Equal(spread1))
	assert.True(t, report.AvgSpreadPercent.LessThan(spread1))
	assert.True(t, report.AvgSpreadPercent.IsPositive())
	assert.Greater(t, report.VolatilityScore, 0.0)
	assert.LessOrEqual(t, report.VolatilityScore, 100.0)

	// geckoterminal sits above the bucket mean in both hours.
	assert.Equal(t, "geckoterminal", report.BestVenue)
	assert.Equal(t, "dexscreener", report.WorstVenue)
}

func TestHistoricalAnalyticsInsufficientData(t *testing.T) {
	svc := New(&fakePriceStore{}, nil, zerolog.Nop())
	_, err := svc.HistoricalAnalytics(context.Background(), "WETH", time.Hour)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestVolatilityScoreSaturates(t *testing.T) {
	assert.Equal(t, 100.0, volatilityScore(decimal.NewFromInt(50)))
	assert.Equal(t, 0.0, volatilityScore(decimal.Zero))
}

package pricecache

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
)

type fakePriceStore struct {
	rows    map[market.QuoteKey]market.PriceQuote
	history int
	failing bool
}

func newFakePriceStore() *fakePriceStore {
	return &fakePriceStore{rows: make(map[market.QuoteKey]market.PriceQuote)}
}

func (f *fakePriceStore) UpsertQuote(_ context.Context, quote market.PriceQuote) error {
	if f.failing {
		return errors.New("store unavailable")
	}
	f.rows[quote.Key()] = quote
	f.history++
	return nil
}

func (f *fakePriceStore) ListQuotes(_ context.Context, assetID, chainID, venueID string) ([]market.PriceQuote, error) {
	if f.failing {
		return nil, errors.New("store unavailable")
	}
	quotes := make([]market.PriceQuote, 0)
	for key, quote := range f.rows {
		if key.AssetID != assetID {
			continue
		}
		if chainID != "" && key.ChainID != chainID {
			continue
		}
		if venueID != "" && key.VenueID != venueID {
			continue
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

func (f *fakePriceStore) ListQuoteHistory(context.Context, string, time.Time, time.Time) ([]market.PriceQuote, error) {
	return nil, nil
}

func (f *fakePriceStore) DistinctAssets(context.Context) ([]string, error) {
	return nil, nil
}

func quoteAt(asset, chain, venue string, price float64, observedAt time.Time) market.PriceQuote {
	return market.PriceQuote{
		AssetID:    asset,
		ChainID:    chain,
		VenueID:    venue,
		PriceUSD:   decimal.NewFromFloat(price),
		ObservedAt: observedAt,
	}
}

func TestUpsertIsIdempotentPerKey(t *testing.T) {
	store := newFakePriceStore()
	cache := New(store, time.Minute, zerolog.Nop())
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, cache.Upsert(ctx, quoteAt("WETH", "ethereum", "uniswap", 100, now)))
	require.NoError(t, cache.Upsert(ctx, quoteAt("WETH", "ethereum", "uniswap", 101, now.Add(time.Second))))

	assert.Len(t, store.rows, 1, "same key must overwrite in place")

	quotes, err := cache.Get(ctx, "WETH", "", "")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.True(t, quotes[0].PriceUSD.Equal(decimal.NewFromInt(101)), "last write wins")
}

func TestUpsertWritesStoreBeforeCache(t *testing.T) {
	store := newFakePriceStore()
	store.failing = true
	cache := New(store, time.Minute, zerolog.Nop())
	ctx := context.Background()

	err := cache.Upsert(ctx, quoteAt("WETH", "ethereum", "uniswap", 100, time.Now().UTC()))
	require.Error(t, err)

	store.failing = false
	quotes, err := cache.Get(ctx, "WETH", "", "")
	require.NoError(t, err)
	assert.Empty(t, quotes, "cache must not diverge from the store on partial failure")
}

func TestGetFallsThroughToStore(t *testing.T) {
	store := newFakePriceStore()
	now := time.Now().UTC()
	store.rows[market.QuoteKey{AssetID: "WETH", ChainID: "ethereum", VenueID: "uniswap"}] = quoteAt("WETH", "ethereum", "uniswap", 100, now)

	cache := New(store, time.Minute, zerolog.Nop())
	quotes, err := cache.Get(context.Background(), "WETH", "", "")
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	// A second read is served from memory even if the store goes away.
	store.failing = true
	quotes, err = cache.Get(context.Background(), "WETH", "", "")
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
}

func TestStaleDataReturnedAndRefreshEnqueued(t *testing.T) {
	store := newFakePriceStore()
	stale := time.Now().UTC().Add(-time.Hour)
	store.rows[market.QuoteKey{AssetID: "WETH", ChainID: "ethereum", VenueID: "uniswap"}] = quoteAt("WETH", "ethereum", "uniswap", 100, stale)

	cache := New(store, time.Minute, zerolog.Nop())
	refreshed := make(chan string, 1)
	cache.SetRefreshHook(func(assetID string) { refreshed <- assetID })

	quotes, err := cache.Get(context.Background(), "WETH", "", "")
	require.NoError(t, err)
	assert.Len(t, quotes, 1, "stale data is still returned")

	select {
	case asset := <-refreshed:
		assert.Equal(t, "WETH", asset)
	default:
		t.Fatal("expected a refresh to be enqueued for stale data")
	}
}

func TestUpsertOfOldObservationIsNotServedAsFresh(t *testing.T) {
	cache := New(nil, time.Minute, zerolog.Nop())
	refreshed := make(chan string, 1)
	cache.SetRefreshHook(func(assetID string) { refreshed <- assetID })

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, cache.Upsert(context.Background(), quoteAt("WETH", "ethereum", "uniswap", 100, stale)))

	quotes, err := cache.Get(context.Background(), "WETH", "", "")
	require.NoError(t, err)
	assert.Len(t, quotes, 1, "stale data is still returned")

	select {
	case asset := <-refreshed:
		assert.Equal(t, "WETH", asset)
	default:
		t.Fatal("an hour-old observation must count as stale on the memory tier too")
	}
}

func TestInvalidateDropsAsset(t *testing.T) {
	cache := New(nil, time.Minute, zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, cache.Upsert(ctx, quoteAt("WETH", "ethereum", "uniswap", 100, now)))
	require.NoError(t, cache.Upsert(ctx, quoteAt("WBTC", "ethereum", "uniswap", 200, now)))

	cache.Invalidate("WETH")

	quotes, err := cache.Get(ctx, "WETH", "", "")
	require.NoError(t, err)
	assert.Empty(t, quotes)

	quotes, err = cache.Get(ctx, "WBTC", "", "")
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
}

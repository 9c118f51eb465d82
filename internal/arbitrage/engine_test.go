package arbitrage

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexwatch/internal/market"
)

type fakeQuotes struct {
	quotes map[string][]market.PriceQuote
}

func (f *fakeQuotes) GetAllPrices(_ context.Context, assetID, _, _ string) ([]market.PriceQuote, error) {
	return f.quotes[assetID], nil
}

type fakeFees struct {
	percentage decimal.Decimal
	calls      int
}

func (f *fakeFees) Fee(_ context.Context, sourceChain, targetChain string) market.BridgeFeeQuote {
	f.calls++
	return market.BridgeFeeQuote{
		SourceChain:   sourceChain,
		TargetChain:   targetChain,
		BridgeName:    "test-bridge",
		PercentageFee: f.percentage,
	}
}

type fakeOppStore struct {
	nextID int64
	rows   map[int64]market.ArbitrageOpportunity
}

func newFakeOppStore() *fakeOppStore {
	return &fakeOppStore{rows: make(map[int64]market.ArbitrageOpportunity)}
}

func (f *fakeOppStore) UpsertOpportunity(_ context.Context, opp market.ArbitrageOpportunity) (market.ArbitrageOpportunity, error) {
	for id, existing := range f.rows {
		if existing.IsActive && existing.LegKey() == opp.LegKey() {
			opp.ID = id
			opp.IsActive = true
			f.rows[id] = opp
			return opp, nil
		}
	}
	f.nextID++
	opp.ID = f.nextID
	opp.IsActive = true
	f.rows[opp.ID] = opp
	return opp, nil
}

func (f *fakeOppStore) ListActiveOpportunities(_ context.Context, assetID string) ([]market.ArbitrageOpportunity, error) {
	active := make([]market.ArbitrageOpportunity, 0)
	for _, opp := range f.rows {
		if opp.IsActive && (assetID == "" || opp.AssetID == assetID) {
			active = append(active, opp)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].NetProfitPercent.GreaterThan(active[j].NetProfitPercent)
	})
	return active, nil
}

func (f *fakeOppStore) ListOpportunitiesBetween(_ context.Context, assetID string, from, to time.Time) ([]market.ArbitrageOpportunity, error) {
	matched := make([]market.ArbitrageOpportunity, 0)
	for _, opp := range f.rows {
		if opp.AssetID == assetID && !opp.DetectedAt.Before(from) && opp.DetectedAt.Before(to) {
			matched = append(matched, opp)
		}
	}
	return matched, nil
}

func (f *fakeOppStore) DeactivateOpportunity(_ context.Context, id int64) error {
	opp := f.rows[id]
	opp.IsActive = false
	f.rows[id] = opp
	return nil
}

type recordingNotifier struct {
	sent []market.ArbitrageOpportunity
}

func (r *recordingNotifier) NotifyOpportunity(_ context.Context, opp market.ArbitrageOpportunity) error {
	r.sent = append(r.sent, opp)
	return nil
}

func quote(assetID, chainID, venueID string, price float64, feePct float64) market.PriceQuote {
	q := market.PriceQuote{
		AssetID:    assetID,
		ChainID:    chainID,
		VenueID:    venueID,
		PriceUSD:   decimal.NewFromFloat(price),
		ObservedAt: time.Now().UTC(),
	}
	if feePct > 0 {
		fee := decimal.NewFromFloat(feePct)
		q.FeePercent = &fee
	}
	return q
}

func newEngine(quotes *fakeQuotes, store *fakeOppStore, notifier Notifier) *Engine {
	return NewEngine(Options{
		Quotes:   quotes,
		Store:    store,
		Fees:     &fakeFees{percentage: decimal.NewFromFloat(0.5)},
		Notifier: notifier,
	}, zerolog.Nop())
}

func TestScanDetectsSameChainOpportunity(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string][]market.PriceQuote{
		"WETH": {
			quote("WETH", "ethereum", "dexscreener", 100, 0.1),
			quote("WETH", "ethereum", "geckoterminal", 104, 0.1),
		},
	}}
	store := newFakeOppStore()
	engine := newEngine(quotes, store, nil)

	found, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	require.Len(t, found, 1)

	opp := found[0]
	assert.Equal(t, "dexscreener", opp.SourceVenue, "cheaper leg is always the buy side")
	assert.Equal(t, "geckoterminal", opp.TargetVenue)
	assert.False(t, opp.IsCrossChain)
	assert.True(t, opp.GrossProfitPercent.Equal(decimal.NewFromInt(4)), "gross was %s", opp.GrossProfitPercent)
	assert.True(t, opp.NetProfitPercent.Equal(decimal.NewFromFloat(3.8)), "net was %s", opp.NetProfitPercent)
	assert.True(t, opp.IsActive)
	assert.NotZero(t, opp.ID, "persisted opportunity carries its row id")
}

func TestScanBridgeFeeErasesThinCrossChainEdge(t *testing.T) {
	// 1% gross, 0.1+0.1 venue fees plus 0.5 bridge fee: net 0.3 < 2.
	quotes := &fakeQuotes{quotes: map[string][]market.PriceQuote{
		"WETH": {
			quote("WETH", "ethereum", "dexscreener", 100, 0.1),
			quote("WETH", "polygon", "geckoterminal", 101, 0.1),
		},
	}}
	store := newFakeOppStore()
	engine := newEngine(quotes, store, nil)

	found, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestScanCrossChainOpportunityCarriesBridgeFee(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string][]market.PriceQuote{
		"WETH": {
			quote("WETH", "ethereum", "dexscreener", 100, 0.1),
			quote("WETH", "polygon", "geckoterminal", 110, 0.1),
		},
	}}
	store := newFakeOppStore()
	engine := newEngine(quotes, store, nil)

	found, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	require.Len(t, found, 1)

	opp := found[0]
	assert.True(t, opp.IsCrossChain)
	assert.True(t, opp.EstimatedFeePercent.Equal(decimal.NewFromFloat(0.7)), "fees were %s", opp.EstimatedFeePercent)
	assert.True(t, opp.NetProfitPercent.Equal(decimal.NewFromFloat(9.3)), "net was %s", opp.NetProfitPercent)
}

func TestScanNeverReturnsBelowThreshold(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string][]market.PriceQuote{
		"WETH": {
			quote("WETH", "ethereum", "dexscreener", 100, 0),
			quote("WETH", "ethereum", "geckoterminal", 101.5, 0),
			quote("WETH", "ethereum", "uniswap-v2", 104, 0),
		},
	}}
	store := newFakeOppStore()
	engine := newEngine(quotes, store, nil)

	found, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	for _, opp := range found {
		assert.True(t, opp.NetProfitPercent.GreaterThanOrEqual(DefaultMinProfitPercent),
			"pair %s has net %s below threshold", opp.LegKey(), opp.NetProfitPercent)
	}
}

func TestScanOrdersByNetProfitDescending(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string][]market.PriceQuote{
		"WETH": {
			quote("WETH", "ethereum", "dexscreener", 100, 0),
			quote("WETH", "ethereum", "geckoterminal", 104, 0),
			quote("WETH", "ethereum", "uniswap-v2", 120, 0),
		},
	}}
	store := newFakeOppStore()
	engine := newEngine(quotes, store, nil)

	found, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	require.Len(t, found, 3)
	for i := 1; i < len(found); i++ {
		assert.True(t, found[i-1].NetProfitPercent.GreaterThanOrEqual(found[i].NetProfitPercent),
			"pair %s (net %s) sorted after %s (net %s)",
			found[i-1].LegKey(), found[i-1].NetProfitPercent, found[i].LegKey(), found[i].NetProfitPercent)
	}

	// Limit must truncate after ordering, keeping the widest edge.
	top, err := engine.FindOpportunities(context.Background(), "WETH", Filters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "dexscreener", top[0].SourceVenue)
	assert.Equal(t, "uniswap-v2", top[0].TargetVenue)
	assert.True(t, top[0].NetProfitPercent.Equal(decimal.NewFromInt(20)), "net was %s", top[0].NetProfitPercent)
}

func TestScanDeactivatesVanishedOpportunity(t *testing.T) {
	store := newFakeOppStore()
	stale, err := store.UpsertOpportunity(context.Background(), market.ArbitrageOpportunity{
		AssetID:          "WETH",
		SourceChain:      "ethereum",
		SourceVenue:      "dexscreener",
		TargetChain:      "ethereum",
		TargetVenue:      "geckoterminal",
		NetProfitPercent: decimal.NewFromInt(3),
		DetectedAt:       time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	// Prices have converged: no pair clears the threshold any more.
	quotes := &fakeQuotes{quotes: map[string][]market.PriceQuote{
		"WETH": {
			quote("WETH", "ethereum", "dexscreener", 100, 0),
			quote("WETH", "ethereum", "geckoterminal", 100.5, 0),
		},
	}}
	engine := newEngine(quotes, store, nil)

	found, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	assert.Empty(t, found)

	assert.False(t, store.rows[stale.ID].IsActive, "converged opportunity must be deactivated, not deleted")
	_, exists := store.rows[stale.ID]
	assert.True(t, exists)
}

func TestScanRefreshesExistingOpportunityInPlace(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string][]market.PriceQuote{
		"WETH": {
			quote("WETH", "ethereum", "dexscreener", 100, 0),
			quote("WETH", "ethereum", "geckoterminal", 104, 0),
		},
	}}
	store := newFakeOppStore()
	notifier := &recordingNotifier{}
	engine := newEngine(quotes, store, notifier)

	first, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, notifier.sent, 1, "new opportunity must be announced")

	quotes.quotes["WETH"][1].PriceUSD = decimal.NewFromInt(105)
	second, err := engine.Scan(context.Background(), "WETH")
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].ID, second[0].ID, "refresh must update the same row")
	assert.Len(t, notifier.sent, 1, "refreshed opportunity must not be re-announced")
	assert.True(t, second[0].GrossProfitPercent.Equal(decimal.NewFromInt(5)))
}

func TestFiltersApply(t *testing.T) {
	opps := []market.ArbitrageOpportunity{
		{SourceChain: "ethereum", TargetChain: "polygon", SourceVenue: "dexscreener", TargetVenue: "geckoterminal", IsCrossChain: true, NetProfitPercent: decimal.NewFromInt(5)},
		{SourceChain: "ethereum", TargetChain: "ethereum", SourceVenue: "dexscreener", TargetVenue: "uniswap-v2", NetProfitPercent: decimal.NewFromInt(3)},
		{SourceChain: "bsc", TargetChain: "bsc", SourceVenue: "geckoterminal", TargetVenue: "dexscreener", NetProfitPercent: decimal.NewFromFloat(2.1)},
	}

	assert.Len(t, Filters{}.Apply(opps), 3)
	assert.Len(t, Filters{CrossChainOnly: true}.Apply(opps), 1)
	assert.Len(t, Filters{SameChainOnly: true}.Apply(opps), 2)
	assert.Len(t, Filters{MinProfitPercent: decimal.NewFromInt(3)}.Apply(opps), 2)
	assert.Len(t, Filters{ChainID: "bsc"}.Apply(opps), 1)
	assert.Len(t, Filters{VenueID: "uniswap-v2"}.Apply(opps), 1)
	assert.Len(t, Filters{Limit: 2}.Apply(opps), 2)
}

func TestActiveOpportunitiesReadsStore(t *testing.T) {
	store := newFakeOppStore()
	_, err := store.UpsertOpportunity(context.Background(), market.ArbitrageOpportunity{
		AssetID: "WETH", SourceChain: "ethereum", SourceVenue: "a", TargetChain: "polygon", TargetVenue: "b",
		IsCrossChain: true, NetProfitPercent: decimal.NewFromInt(4), DetectedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	engine := newEngine(&fakeQuotes{}, store, nil)
	active, err := engine.ActiveOpportunities(context.Background(), "WETH", Filters{CrossChainOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

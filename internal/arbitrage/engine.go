// Package arbitrage detects price discrepancies between venue pairs and
// maintains the persisted opportunity lifecycle.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexwatch/internal/aggregator"
	"dexwatch/internal/market"
	"dexwatch/internal/metrics"
	"dexwatch/internal/storage"
)

// DefaultMinProfitPercent is the net profit threshold below which a pair
// discrepancy is noise, not an opportunity.
var DefaultMinProfitPercent = decimal.NewFromInt(2)

var hundred = decimal.NewFromInt(100)

// QuoteSource supplies the current quote set for an asset.
type QuoteSource interface {
	GetAllPrices(ctx context.Context, assetID, chainID, venueID string) ([]market.PriceQuote, error)
}

// FeeSource resolves bridging costs for cross-chain legs.
type FeeSource interface {
	Fee(ctx context.Context, sourceChain, targetChain string) market.BridgeFeeQuote
}

// Notifier receives newly detected opportunities.
type Notifier interface {
	NotifyOpportunity(ctx context.Context, opp market.ArbitrageOpportunity) error
}

// AssetLister enumerates assets for the scheduled sweep.
type AssetLister interface {
	DistinctAssets(ctx context.Context) ([]string, error)
}

// Engine scans quote sets pairwise and reconciles the stored active
// opportunity set against what the current market supports.
type Engine struct {
	quotes    QuoteSource
	store     storage.OpportunityStore
	assets    AssetLister
	fees      FeeSource
	notifier  Notifier
	minProfit decimal.Decimal
	logger    zerolog.Logger
}

// Options configures an Engine. Notifier and Assets are optional.
type Options struct {
	Quotes           QuoteSource
	Store            storage.OpportunityStore
	Assets           AssetLister
	Fees             FeeSource
	Notifier         Notifier
	MinProfitPercent decimal.Decimal
}

// NewEngine constructs the arbitrage engine.
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	minProfit := opts.MinProfitPercent
	if minProfit.LessThanOrEqual(decimal.Zero) {
		minProfit = DefaultMinProfitPercent
	}
	return &Engine{
		quotes:    opts.Quotes,
		store:     opts.Store,
		assets:    opts.Assets,
		fees:      opts.Fees,
		notifier:  opts.Notifier,
		minProfit: minProfit,
		logger:    logger.With().Str("component", "arbitrage_engine").Logger(),
	}
}

// Scan detects opportunities for one asset, persists them, and reconciles
// previously active opportunities that the current market no longer
// supports. A persistence failure for one pair never aborts the rest of
// the scan.
func (e *Engine) Scan(ctx context.Context, assetID string) ([]market.ArbitrageOpportunity, error) {
	if assetID == "" {
		return nil, fmt.Errorf("assetID is required")
	}

	previous, err := e.store.ListActiveOpportunities(ctx, assetID)
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		return nil, fmt.Errorf("load active opportunities: %w", err)
	}
	previousKeys := make(map[string]market.ArbitrageOpportunity, len(previous))
	for _, opp := range previous {
		previousKeys[opp.LegKey()] = opp
	}

	quotes, err := e.quotes.GetAllPrices(ctx, assetID, "", "")
	if err != nil && !errors.Is(err, aggregator.ErrNoQuotes) {
		return nil, fmt.Errorf("load quotes: %w", err)
	}

	detected := e.detect(ctx, quotes)

	saved := make([]market.ArbitrageOpportunity, 0, len(detected))
	savedKeys := make(map[string]struct{}, len(detected))
	for _, opp := range detected {
		persisted, upsertErr := e.store.UpsertOpportunity(ctx, opp)
		if upsertErr != nil {
			if errors.Is(upsertErr, storage.ErrNotConfigured) {
				persisted = opp
				persisted.IsActive = true
			} else {
				e.logger.Error().Err(upsertErr).Str("asset", assetID).Str("pair", opp.LegKey()).Msg("opportunity upsert failed")
				continue
			}
		}
		saved = append(saved, persisted)
		savedKeys[persisted.LegKey()] = struct{}{}

		if _, known := previousKeys[persisted.LegKey()]; !known {
			e.notify(ctx, persisted)
		}
	}

	for key, opp := range previousKeys {
		if _, still := savedKeys[key]; still {
			continue
		}
		if deactErr := e.store.DeactivateOpportunity(ctx, opp.ID); deactErr != nil {
			e.logger.Error().Err(deactErr).Int64("id", opp.ID).Str("pair", key).Msg("opportunity deactivation failed")
			continue
		}
		e.logger.Info().Str("pair", key).Str("asset", assetID).Msg("opportunity no longer profitable, deactivated")
	}

	return saved, nil
}

// ScanAll sweeps every known asset. Per-asset failures are logged and
// skipped so one broken asset cannot stall the scheduled scan.
func (e *Engine) ScanAll(ctx context.Context) error {
	if e.assets == nil {
		return fmt.Errorf("asset listing not configured")
	}
	assets, err := e.assets.DistinctAssets(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}

	for _, asset := range assets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, scanErr := e.Scan(ctx, asset); scanErr != nil {
			e.logger.Error().Err(scanErr).Str("asset", asset).Msg("asset scan failed")
		}
	}

	if active, listErr := e.store.ListActiveOpportunities(ctx, ""); listErr == nil {
		metrics.ActiveOpportunities.Set(float64(len(active)))
	}
	return nil
}

// FindOpportunities runs a live scan for an asset and applies the filters.
func (e *Engine) FindOpportunities(ctx context.Context, assetID string, filters Filters) ([]market.ArbitrageOpportunity, error) {
	scanned, err := e.Scan(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return filters.Apply(scanned), nil
}

// ActiveOpportunities reads the stored active set, filtered. An empty
// assetID matches all assets.
func (e *Engine) ActiveOpportunities(ctx context.Context, assetID string, filters Filters) ([]market.ArbitrageOpportunity, error) {
	active, err := e.store.ListActiveOpportunities(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return filters.Apply(active), nil
}

// detect compares every quote pair and keeps those whose net profit after
// trading and bridging fees clears the threshold, ordered by net profit
// descending. The cheaper leg is always the source (buy side).
func (e *Engine) detect(ctx context.Context, quotes []market.PriceQuote) []market.ArbitrageOpportunity {
	now := time.Now().UTC()
	opportunities := make([]market.ArbitrageOpportunity, 0)

	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			buy, sell := quotes[i], quotes[j]
			if sell.PriceUSD.LessThan(buy.PriceUSD) {
				buy, sell = sell, buy
			}
			if buy.PriceUSD.LessThanOrEqual(decimal.Zero) || buy.PriceUSD.Equal(sell.PriceUSD) {
				continue
			}

			gross := sell.PriceUSD.Sub(buy.PriceUSD).Div(buy.PriceUSD).Mul(hundred)

			fees := venueFee(buy).Add(venueFee(sell))
			crossChain := buy.ChainID != sell.ChainID
			if crossChain {
				fees = fees.Add(e.fees.Fee(ctx, buy.ChainID, sell.ChainID).PercentageFee)
			}

			net := gross.Sub(fees)
			if net.LessThan(e.minProfit) {
				continue
			}

			opportunities = append(opportunities, market.ArbitrageOpportunity{
				AssetID:             buy.AssetID,
				SourceChain:         buy.ChainID,
				SourceVenue:         buy.VenueID,
				TargetChain:         sell.ChainID,
				TargetVenue:         sell.VenueID,
				SourcePriceUSD:      buy.PriceUSD,
				TargetPriceUSD:      sell.PriceUSD,
				GrossProfitPercent:  gross,
				EstimatedFeePercent: fees,
				NetProfitPercent:    net,
				IsCrossChain:        crossChain,
				IsActive:            true,
				DetectedAt:          now,
			})
		}
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].NetProfitPercent.GreaterThan(opportunities[j].NetProfitPercent)
	})
	return opportunities
}

func (e *Engine) notify(ctx context.Context, opp market.ArbitrageOpportunity) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyOpportunity(ctx, opp); err != nil {
		e.logger.Error().Err(err).Str("pair", opp.LegKey()).Msg("opportunity notification failed")
	}
}

func venueFee(quote market.PriceQuote) decimal.Decimal {
	if quote.FeePercent == nil {
		return decimal.Zero
	}
	return *quote.FeePercent
}

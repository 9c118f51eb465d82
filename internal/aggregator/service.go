// Package aggregator orchestrates parallel venue fetches and computes best
// and slippage-adjusted execution prices.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexwatch/internal/market"
	"dexwatch/internal/pricecache"
	"dexwatch/internal/venue"
)

// ErrNoQuotes signals that no price data exists for the asset. This is a
// domain-level "not found", distinct from transport failures which are
// swallowed per venue.
var ErrNoQuotes = errors.New("aggregator: no quotes found")

// DefaultMinReliability filters out venues scored below this unless doing
// so would leave no results at all.
const DefaultMinReliability = 70.0

var (
	hundred      = decimal.NewFromInt(100)
	flatSlippage = decimal.NewFromInt(1)
	maxSlippage  = decimal.NewFromInt(10)
)

// ScoreReader supplies reliability scores for stamping quotes.
type ScoreReader interface {
	Score(ctx context.Context, venueID, chainID string) float64
}

// Service fans out price requests across venue adapters and reconciles the
// results with the cache and store.
type Service struct {
	adapters       []venue.Adapter
	cache          *pricecache.Cache
	scores         ScoreReader
	logger         zerolog.Logger
	minReliability float64

	enqueueMu sync.RWMutex
	enqueue   func(assetID string)
}

// New constructs the aggregation service.
func New(adapters []venue.Adapter, cache *pricecache.Cache, scores ScoreReader, minReliability float64, logger zerolog.Logger) *Service {
	if minReliability <= 0 {
		minReliability = DefaultMinReliability
	}
	return &Service{
		adapters:       adapters,
		cache:          cache,
		scores:         scores,
		logger:         logger.With().Str("component", "aggregator").Logger(),
		minReliability: minReliability,
	}
}

// SetRefreshHook installs the background refresh trigger used by
// TriggerRefresh. Installed late to break the construction cycle with the
// job queue.
func (s *Service) SetRefreshHook(enqueue func(assetID string)) {
	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()
	s.enqueue = enqueue
}

// GetAllPrices fans out to every configured adapter matching the optional
// chain/venue filters, awaits all of them, and returns the union of live
// results merged with cached/stored quotes. A single adapter failure never
// cancels its siblings; partial results are valid results.
func (s *Service) GetAllPrices(ctx context.Context, assetID, chainID, venueID string) ([]market.PriceQuote, error) {
	if assetID == "" {
		return nil, fmt.Errorf("assetID is required")
	}

	live := s.fetchLive(ctx, assetID, chainID, venueID)

	merged := make(map[market.QuoteKey]market.PriceQuote, len(live))
	for _, quote := range live {
		merged[quote.Key()] = quote
		if err := s.cache.Upsert(ctx, quote); err != nil {
			s.logger.Error().Err(err).Str("asset", assetID).Str("venue", quote.VenueID).Msg("quote persistence failed")
		}
	}

	cached, err := s.cache.Get(ctx, assetID, chainID, venueID)
	if err == nil {
		for _, quote := range cached {
			if _, seen := merged[quote.Key()]; !seen {
				merged[quote.Key()] = quote
			}
		}
	}

	if len(merged) == 0 {
		return nil, ErrNoQuotes
	}

	quotes := make([]market.PriceQuote, 0, len(merged))
	for _, quote := range merged {
		quotes = append(quotes, quote)
	}
	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].Key().String() < quotes[j].Key().String()
	})
	return quotes, nil
}

// GetBestPrice ranks the available quotes and returns the best execution
// venue. Quotes from venues scored under the reliability cutoff are
// excluded unless that would remove every result. When amountUSD is
// positive the ranking uses the slippage-adjusted effective price.
func (s *Service) GetBestPrice(ctx context.Context, assetID, chainID, venueID string, amountUSD decimal.Decimal) (market.BestPriceResult, error) {
	if amountUSD.IsNegative() {
		return market.BestPriceResult{}, fmt.Errorf("amountUSD cannot be negative")
	}

	all, err := s.GetAllPrices(ctx, assetID, chainID, venueID)
	if err != nil {
		return market.BestPriceResult{}, err
	}

	filtered := make([]market.PriceQuote, 0, len(all))
	for _, quote := range all {
		if quote.ReliabilityScore >= s.minReliability {
			filtered = append(filtered, quote)
		}
	}
	if len(filtered) == 0 {
		s.logger.Warn().Str("asset", assetID).Float64("min_score", s.minReliability).
			Msg("all venues below reliability cutoff, falling back to unfiltered set")
		filtered = all
	}

	ranked := make([]market.PriceQuote, len(filtered))
	copy(ranked, filtered)
	sort.SliceStable(ranked, func(i, j int) bool {
		return effectivePrice(ranked[i], amountUSD).GreaterThan(effectivePrice(ranked[j], amountUSD))
	})

	return market.BestPriceResult{
		Best:          ranked[0],
		All:           ranked,
		SpreadPercent: spreadPercent(filtered),
	}, nil
}

// TriggerRefresh busts the cache for an asset and enqueues an asynchronous
// re-fetch. Fire-and-forget.
func (s *Service) TriggerRefresh(assetID string) {
	s.cache.Invalidate(assetID)
	s.enqueueMu.RLock()
	enqueue := s.enqueue
	s.enqueueMu.RUnlock()
	if enqueue != nil {
		enqueue(assetID)
	}
}

// Refresh performs the actual background refresh for an asset.
func (s *Service) Refresh(ctx context.Context, assetID string) {
	if _, err := s.GetAllPrices(ctx, assetID, "", ""); err != nil && !errors.Is(err, ErrNoQuotes) {
		s.logger.Error().Err(err).Str("asset", assetID).Msg("background refresh failed")
	}
}

func (s *Service) fetchLive(ctx context.Context, assetID, chainID, venueID string) []market.PriceQuote {
	type target struct {
		adapter venue.Adapter
		chain   string
	}

	targets := make([]target, 0)
	for _, adapter := range s.adapters {
		if venueID != "" && adapter.ID() != venueID {
			continue
		}
		for _, chain := range adapter.Chains() {
			if chainID != "" && chain != chainID {
				continue
			}
			targets = append(targets, target{adapter: adapter, chain: chain})
		}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		quotes []market.PriceQuote
	)
	for _, tgt := range targets {
		wg.Add(1)
		go func(tgt target) {
			defer wg.Done()
			quote, err := tgt.adapter.FetchPrice(ctx, assetID, tgt.chain)
			if err != nil {
				if !errors.Is(err, venue.ErrNotAvailable) {
					s.logger.Warn().Err(err).Str("venue", tgt.adapter.ID()).Str("chain", tgt.chain).Msg("venue fetch rejected")
				}
				return
			}
			quote.ReliabilityScore = s.scores.Score(ctx, quote.VenueID, quote.ChainID)
			mu.Lock()
			quotes = append(quotes, quote)
			mu.Unlock()
		}(tgt)
	}
	wg.Wait()
	return quotes
}

// effectivePrice applies the estimated slippage for the trade size. A zero
// amount ranks by raw price.
func effectivePrice(quote market.PriceQuote, amountUSD decimal.Decimal) decimal.Decimal {
	if amountUSD.IsZero() {
		return quote.PriceUSD
	}
	slippage := estimateSlippage(quote, amountUSD)
	return quote.PriceUSD.Mul(decimal.NewFromInt(1).Sub(slippage.Div(hundred)))
}

// estimateSlippage prefers the precomputed tier for the amount bucket,
// falls back to a liquidity ratio capped at 10%, and assumes a flat 1%
// when liquidity is unknown.
func estimateSlippage(quote market.PriceQuote, amountUSD decimal.Decimal) decimal.Decimal {
	var tier *decimal.Decimal
	switch {
	case amountUSD.LessThanOrEqual(decimal.NewFromInt(1_000)):
		tier = quote.Slippage1k
	case amountUSD.LessThanOrEqual(decimal.NewFromInt(10_000)):
		tier = quote.Slippage10k
	default:
		tier = quote.Slippage100k
	}
	if tier != nil {
		return *tier
	}

	if quote.Liquidity != nil && quote.Liquidity.IsPositive() {
		estimated := amountUSD.Div(*quote.Liquidity).Mul(hundred)
		if estimated.GreaterThan(maxSlippage) {
			return maxSlippage
		}
		return estimated
	}
	return flatSlippage
}

func spreadPercent(quotes []market.PriceQuote) decimal.Decimal {
	if len(quotes) < 2 {
		return decimal.Zero
	}
	min := quotes[0].PriceUSD
	max := quotes[0].PriceUSD
	for _, quote := range quotes[1:] {
		if quote.PriceUSD.LessThan(min) {
			min = quote.PriceUSD
		}
		if quote.PriceUSD.GreaterThan(max) {
			max = quote.PriceUSD
		}
	}
	if max.IsZero() {
		return decimal.Zero
	}
	return max.Sub(min).Div(max).Mul(hundred)
}

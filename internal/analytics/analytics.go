// Package analytics derives read-only statistics from persisted quote and
// opportunity history. Nothing here mutates core state.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexwatch/internal/market"
	"dexwatch/internal/storage"
)

// ErrInsufficientData signals that the store holds too little history to
// compute the requested statistic.
var ErrInsufficientData = errors.New("analytics: insufficient data")

var (
	hundred       = decimal.NewFromInt(100)
	impactAmounts = []decimal.Decimal{
		decimal.NewFromInt(1_000),
		decimal.NewFromInt(10_000),
		decimal.NewFromInt(100_000),
	}
)

// AmountBucket classifies a trade size for the static impact table.
type AmountBucket string

const (
	BucketLow    AmountBucket = "low"    // <= $1k
	BucketMedium AmountBucket = "medium" // <= $10k
	BucketHigh   AmountBucket = "high"   // <= $100k
	BucketWhale  AmountBucket = "whale"  // > $100k
)

// staticImpact is the fallback impact table, per venue and amount bucket,
// used when the venue supplies no liquidity figure. Values are percent.
var staticImpact = map[string]map[AmountBucket]float64{
	"dexscreener":   {BucketLow: 0.1, BucketMedium: 0.5, BucketHigh: 1.5, BucketWhale: 5.0},
	"geckoterminal": {BucketLow: 0.15, BucketMedium: 0.6, BucketHigh: 2.0, BucketWhale: 6.0},
	"uniswap-v2":    {BucketLow: 0.3, BucketMedium: 1.0, BucketHigh: 3.0, BucketWhale: 8.0},
}

// defaultImpact covers venues absent from the static table.
var defaultImpact = map[AmountBucket]float64{
	BucketLow: 0.2, BucketMedium: 0.8, BucketHigh: 2.5, BucketWhale: 7.0,
}

// PriceImpactEstimate is the result of a single impact query.
type PriceImpactEstimate struct {
	AssetID       string
	ChainID       string
	VenueID       string
	AmountUSD     decimal.Decimal
	ImpactPercent decimal.Decimal
	Bucket        AmountBucket
	Method        string // "liquidity-ratio" or "static-table"
}

// LiquidityGroup is one slice of the liquidity distribution.
type LiquidityGroup struct {
	Key          string
	LiquidityUSD decimal.Decimal
	SharePercent decimal.Decimal
	Impact1k     decimal.Decimal
	Impact10k    decimal.Decimal
	Impact100k   decimal.Decimal
}

// LiquidityDepthReport describes where an asset's liquidity sits.
type LiquidityDepthReport struct {
	AssetID           string
	TotalLiquidityUSD decimal.Decimal
	ByChain           []LiquidityGroup
	ByVenue           []LiquidityGroup
}

// SpreadBucket aggregates one hour of quote history.
type SpreadBucket struct {
	Hour          time.Time
	QuoteCount    int
	MinPriceUSD   decimal.Decimal
	MaxPriceUSD   decimal.Decimal
	SpreadPercent decimal.Decimal
}

// VenuePerformance ranks a venue by its average price deviation from the
// per-bucket mean. Positive means the venue priced above the crowd.
type VenuePerformance struct {
	VenueID            string
	AvgRelativePercent decimal.Decimal
	Buckets            int
}

// HistoricalReport is the outcome of a historical analytics query.
type HistoricalReport struct {
	AssetID          string
	From             time.Time
	To               time.Time
	Buckets          []SpreadBucket
	AvgSpreadPercent decimal.Decimal
	MaxSpreadPercent decimal.Decimal
	VolatilityScore  float64
	VenuePerformance []VenuePerformance
	BestVenue        string
	WorstVenue       string
	OpportunityCount int
}

// Service answers analytics queries from the persistent store.
type Service struct {
	prices        storage.PriceStore
	opportunities storage.OpportunityStore
	logger        zerolog.Logger
}

// New constructs the analytics service. The opportunity store is optional.
func New(prices storage.PriceStore, opportunities storage.OpportunityStore, logger zerolog.Logger) *Service {
	return &Service{
		prices:        prices,
		opportunities: opportunities,
		logger:        logger.With().Str("component", "analytics").Logger(),
	}
}

// PriceImpact estimates the execution impact of a trade of the given size.
// The venue's live liquidity figure wins; the static per-venue table is the
// fallback.
func (s *Service) PriceImpact(ctx context.Context, assetID, chainID, venueID string, amountUSD decimal.Decimal) (PriceImpactEstimate, error) {
	if assetID == "" || venueID == "" {
		return PriceImpactEstimate{}, fmt.Errorf("assetID and venueID are required")
	}
	if !amountUSD.IsPositive() {
		return PriceImpactEstimate{}, fmt.Errorf("amountUSD must be positive")
	}

	estimate := PriceImpactEstimate{
		AssetID:   assetID,
		ChainID:   chainID,
		VenueID:   venueID,
		AmountUSD: amountUSD,
		Bucket:    bucketFor(amountUSD),
	}

	quotes, err := s.prices.ListQuotes(ctx, assetID, chainID, venueID)
	if err != nil {
		return PriceImpactEstimate{}, fmt.Errorf("load quotes: %w", err)
	}
	for _, quote := range quotes {
		if quote.Liquidity != nil && quote.Liquidity.IsPositive() {
			estimate.ImpactPercent = liquidityImpact(amountUSD, *quote.Liquidity)
			estimate.Method = "liquidity-ratio"
			return estimate, nil
		}
	}

	table, ok := staticImpact[venueID]
	if !ok {
		table = defaultImpact
	}
	estimate.ImpactPercent = decimal.NewFromFloat(table[estimate.Bucket])
	estimate.Method = "static-table"
	return estimate, nil
}

// LiquidityDepth reports the distribution of an asset's current liquidity
// across chains and venues.
func (s *Service) LiquidityDepth(ctx context.Context, assetID string) (LiquidityDepthReport, error) {
	if assetID == "" {
		return LiquidityDepthReport{}, fmt.Errorf("assetID is required")
	}

	quotes, err := s.prices.ListQuotes(ctx, assetID, "", "")
	if err != nil {
		return LiquidityDepthReport{}, fmt.Errorf("load quotes: %w", err)
	}

	byChain := make(map[string]decimal.Decimal)
	byVenue := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, quote := range quotes {
		if quote.Liquidity == nil || !quote.Liquidity.IsPositive() {
			continue
		}
		byChain[quote.ChainID] = byChain[quote.ChainID].Add(*quote.Liquidity)
		byVenue[quote.VenueID] = byVenue[quote.VenueID].Add(*quote.Liquidity)
		total = total.Add(*quote.Liquidity)
	}
	if !total.IsPositive() {
		return LiquidityDepthReport{}, ErrInsufficientData
	}

	return LiquidityDepthReport{
		AssetID:           assetID,
		TotalLiquidityUSD: total,
		ByChain:           buildGroups(byChain, total),
		ByVenue:           buildGroups(byVenue, total),
	}, nil
}

// HistoricalAnalytics buckets quote history by hour within the timeframe
// and derives spread, volatility, and venue-outperformance statistics.
func (s *Service) HistoricalAnalytics(ctx context.Context, assetID string, timeframe time.Duration) (HistoricalReport, error) {
	if assetID == "" {
		return HistoricalReport{}, fmt.Errorf("assetID is required")
	}
	if timeframe <= 0 {
		return HistoricalReport{}, fmt.Errorf("timeframe must be positive")
	}

	to := time.Now().UTC()
	from := to.Add(-timeframe)

	history, err := s.prices.ListQuoteHistory(ctx, assetID, from, to)
	if err != nil {
		return HistoricalReport{}, fmt.Errorf("load quote history: %w", err)
	}
	if len(history) == 0 {
		return HistoricalReport{}, ErrInsufficientData
	}

	grouped := groupByHour(history)
	hours := sortedHours(grouped)

	report := HistoricalReport{AssetID: assetID, From: from, To: to}
	spreadSum := decimal.Zero
	spreadBuckets := 0
	deviation := make(map[string]decimal.Decimal)
	deviationBuckets := make(map[string]int)

	for _, hour := range hours {
		quotes := grouped[hour]
		bucket := newSpreadBucket(hour, quotes)
		if bucket.SpreadPercent.IsPositive() {
			spreadSum = spreadSum.Add(bucket.SpreadPercent)
			spreadBuckets++
			if bucket.SpreadPercent.GreaterThan(report.MaxSpreadPercent) {
				report.MaxSpreadPercent = bucket.SpreadPercent
			}
		}
		report.Buckets = append(report.Buckets, bucket)

		accumulateDeviation(quotes, deviation, deviationBuckets)
	}

	if spreadBuckets > 0 {
		report.AvgSpreadPercent = spreadSum.Div(decimal.NewFromInt(int64(spreadBuckets)))
	}
	report.VolatilityScore = volatilityScore(report.AvgSpreadPercent)
	report.VenuePerformance = rankVenues(deviation, deviationBuckets)
	if len(report.VenuePerformance) > 0 {
		report.BestVenue = report.VenuePerformance[0].VenueID
		report.WorstVenue = report.VenuePerformance[len(report.VenuePerformance)-1].VenueID
	}

	if s.opportunities != nil {
		opps, oppErr := s.opportunities.ListOpportunitiesBetween(ctx, assetID, from, to)
		if oppErr != nil {
			s.logger.Warn().Err(oppErr).Str("asset", assetID).Msg("opportunity history unavailable")
		} else {
			report.OpportunityCount = len(opps)
		}
	}

	return report, nil
}

func bucketFor(amountUSD decimal.Decimal) AmountBucket {
	switch {
	case amountUSD.LessThanOrEqual(decimal.NewFromInt(1_000)):
		return BucketLow
	case amountUSD.LessThanOrEqual(decimal.NewFromInt(10_000)):
		return BucketMedium
	case amountUSD.LessThanOrEqual(decimal.NewFromInt(100_000)):
		return BucketHigh
	default:
		return BucketWhale
	}
}

// liquidityImpact is the share of pool liquidity the trade consumes,
// capped at 100.
func liquidityImpact(amountUSD, liquidity decimal.Decimal) decimal.Decimal {
	impact := amountUSD.Div(liquidity).Mul(hundred)
	if impact.GreaterThan(hundred) {
		return hundred
	}
	return impact
}

func buildGroups(totals map[string]decimal.Decimal, total decimal.Decimal) []LiquidityGroup {
	groups := make([]LiquidityGroup, 0, len(totals))
	for key, liquidity := range totals {
		groups = append(groups, LiquidityGroup{
			Key:          key,
			LiquidityUSD: liquidity,
			SharePercent: liquidity.Div(total).Mul(hundred),
			Impact1k:     liquidityImpact(impactAmounts[0], liquidity),
			Impact10k:    liquidityImpact(impactAmounts[1], liquidity),
			Impact100k:   liquidityImpact(impactAmounts[2], liquidity),
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].LiquidityUSD.GreaterThan(groups[j].LiquidityUSD)
	})
	return groups
}

// BucketSpreads folds quote history into hourly spread buckets, ordered by
// hour. Shared by historical analytics and the export command.
func BucketSpreads(history []market.PriceQuote) []SpreadBucket {
	grouped := groupByHour(history)
	buckets := make([]SpreadBucket, 0, len(grouped))
	for _, hour := range sortedHours(grouped) {
		buckets = append(buckets, newSpreadBucket(hour, grouped[hour]))
	}
	return buckets
}

func groupByHour(history []market.PriceQuote) map[time.Time][]market.PriceQuote {
	grouped := make(map[time.Time][]market.PriceQuote)
	for _, quote := range history {
		hour := quote.ObservedAt.Truncate(time.Hour)
		grouped[hour] = append(grouped[hour], quote)
	}
	return grouped
}

func sortedHours(grouped map[time.Time][]market.PriceQuote) []time.Time {
	hours := make([]time.Time, 0, len(grouped))
	for hour := range grouped {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	return hours
}

func newSpreadBucket(hour time.Time, quotes []market.PriceQuote) SpreadBucket {
	bucket := SpreadBucket{Hour: hour, QuoteCount: len(quotes)}
	bucket.MinPriceUSD, bucket.MaxPriceUSD = priceRange(quotes)
	if len(quotes) >= 2 && bucket.MaxPriceUSD.IsPositive() {
		bucket.SpreadPercent = bucket.MaxPriceUSD.Sub(bucket.MinPriceUSD).Div(bucket.MaxPriceUSD).Mul(hundred)
	}
	return bucket
}

func priceRange(quotes []market.PriceQuote) (min, max decimal.Decimal) {
	min, max = quotes[0].PriceUSD, quotes[0].PriceUSD
	for _, quote := range quotes[1:] {
		if quote.PriceUSD.LessThan(min) {
			min = quote.PriceUSD
		}
		if quote.PriceUSD.GreaterThan(max) {
			max = quote.PriceUSD
		}
	}
	return min, max
}

// accumulateDeviation records, per venue, the relative deviation from the
// bucket's mean price. Buckets with a single quote carry no signal.
func accumulateDeviation(quotes []market.PriceQuote, deviation map[string]decimal.Decimal, buckets map[string]int) {
	if len(quotes) < 2 {
		return
	}
	sum := decimal.Zero
	for _, quote := range quotes {
		sum = sum.Add(quote.PriceUSD)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(quotes))))
	if !mean.IsPositive() {
		return
	}
	for _, quote := range quotes {
		relative := quote.PriceUSD.Sub(mean).Div(mean).Mul(hundred)
		deviation[quote.VenueID] = deviation[quote.VenueID].Add(relative)
		buckets[quote.VenueID]++
	}
}

func rankVenues(deviation map[string]decimal.Decimal, buckets map[string]int) []VenuePerformance {
	ranked := make([]VenuePerformance, 0, len(deviation))
	for venueID, sum := range deviation {
		count := buckets[venueID]
		if count == 0 {
			continue
		}
		ranked = append(ranked, VenuePerformance{
			VenueID:            venueID,
			AvgRelativePercent: sum.Div(decimal.NewFromInt(int64(count))),
			Buckets:            count,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].AvgRelativePercent.GreaterThan(ranked[j].AvgRelativePercent)
	})
	return ranked
}

// volatilityScore maps average hourly spread onto a 0-100 scale. A sustained
// 10% average spread saturates the score.
func volatilityScore(avgSpread decimal.Decimal) float64 {
	score, _ := avgSpread.Mul(decimal.NewFromInt(10)).Float64()
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

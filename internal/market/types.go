// Package market holds the canonical domain types shared across the
// aggregation, arbitrage, and analytics components.
package market

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a single normalized price observation for an asset at a
// venue on a chain. Optional fields are pointers: a venue that cannot
// supply a value leaves it nil, since zero is a valid value and must not
// be confused with "unknown".
type PriceQuote struct {
	AssetID          string
	ChainID          string
	VenueID          string
	PriceUSD         decimal.Decimal
	Volume24h        *decimal.Decimal
	Liquidity        *decimal.Decimal
	Slippage1k       *decimal.Decimal
	Slippage10k      *decimal.Decimal
	Slippage100k     *decimal.Decimal
	FeePercent       *decimal.Decimal
	ReliabilityScore float64
	ObservedAt       time.Time
	Raw              json.RawMessage
}

// Key returns the identity key of the quote. At most one current quote
// exists per key; new observations overwrite in place.
func (q PriceQuote) Key() QuoteKey {
	return QuoteKey{AssetID: q.AssetID, ChainID: q.ChainID, VenueID: q.VenueID}
}

// QuoteKey identifies a quote by (asset, chain, venue).
type QuoteKey struct {
	AssetID string
	ChainID string
	VenueID string
}

func (k QuoteKey) String() string {
	return k.AssetID + "|" + k.ChainID + "|" + k.VenueID
}

// BestPriceResult is the outcome of a best-execution price query.
type BestPriceResult struct {
	Best          PriceQuote
	All           []PriceQuote
	SpreadPercent decimal.Decimal
}

// ArbitrageOpportunity is a detected price discrepancy between two venue
// legs, net of trading and bridging fees. The identity key is the ordered
// (asset, source leg, target leg) tuple; refreshing an active opportunity
// updates it in place rather than appending.
type ArbitrageOpportunity struct {
	ID                  int64
	AssetID             string
	SourceChain         string
	SourceVenue         string
	TargetChain         string
	TargetVenue         string
	SourcePriceUSD      decimal.Decimal
	TargetPriceUSD      decimal.Decimal
	GrossProfitPercent  decimal.Decimal
	EstimatedFeePercent decimal.Decimal
	NetProfitPercent    decimal.Decimal
	IsCrossChain        bool
	IsActive            bool
	DetectedAt          time.Time
}

// LegKey returns the ordered identity key for upsert semantics.
func (o ArbitrageOpportunity) LegKey() string {
	return fmt.Sprintf("%s|%s@%s|%s@%s", o.AssetID, o.SourceVenue, o.SourceChain, o.TargetVenue, o.TargetChain)
}

// BridgeFeeQuote estimates the cost of moving value between two chains.
type BridgeFeeQuote struct {
	SourceChain          string
	TargetChain          string
	BridgeName           string
	FixedFeeUSD          decimal.Decimal
	PercentageFee        decimal.Decimal
	EstimatedTimeSeconds int
}

// ReliabilityRecord tracks per-(venue, chain) trust derived from observed
// success rate and latency. Records are created lazily and never deleted.
type ReliabilityRecord struct {
	VenueID           string
	ChainID           string
	Score             float64
	SuccessCount      int64
	FailureCount      int64
	AvgLatencySeconds float64
	History           []Observation
}

// Observation is one recorded fetch outcome.
type Observation struct {
	Success        bool
	LatencySeconds float64
	At             time.Time
}

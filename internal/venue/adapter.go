// Package venue contains one adapter per external price source. Adapters
// normalize venue-specific payloads into the canonical PriceQuote shape and
// report every attempt's outcome and latency to the reliability tracker.
package venue

import (
	"context"
	"errors"
	"time"

	"dexwatch/internal/market"
	"dexwatch/internal/metrics"
)

// ErrNotAvailable signals that a venue could not supply a quote. Transient
// transport failures map to this error and are never propagated further.
var ErrNotAvailable = errors.New("venue: price not available")

// Adapter fetches and normalizes a price quote from one source.
type Adapter interface {
	ID() string
	Chains() []string
	FetchPrice(ctx context.Context, assetID, chainID string) (market.PriceQuote, error)
}

// Observer receives the outcome of every fetch attempt.
type Observer interface {
	RecordObservation(ctx context.Context, venueID, chainID string, success bool, latencySeconds float64)
}

// NopObserver discards observations.
type NopObserver struct{}

// RecordObservation implements Observer.
func (NopObserver) RecordObservation(context.Context, string, string, bool, float64) {}

func observe(ctx context.Context, obs Observer, venueID, chainID string, start time.Time, success bool) {
	latency := time.Since(start).Seconds()
	metrics.VenueFetchLatency.WithLabelValues(venueID).Observe(latency)
	if !success {
		metrics.VenueFetchErrors.WithLabelValues(venueID).Inc()
	}
	if obs != nil {
		obs.RecordObservation(ctx, venueID, chainID, success, latency)
	}
}

func supportsChain(chains []string, chainID string) bool {
	for _, c := range chains {
		if c == chainID {
			return true
		}
	}
	return false
}

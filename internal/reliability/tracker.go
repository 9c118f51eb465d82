// Package reliability maintains per-(venue, chain) trust scores derived
// from observed fetch success rates and latency.
package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dexwatch/internal/market"
)

const (
	// DefaultScore is the optimistic prior for unseen venues.
	DefaultScore = 100.0

	scoreFloor         = 50.0
	failurePenalty     = 5.0
	latencyEMAAlpha    = 0.1
	latencyPenaltyMax  = 10.0
	slowLatencySeconds = 5.0
	minSampleSize      = 10
	historyLimit       = 20
)

// StateStore persists reliability records. Implementations must tolerate
// concurrent access from multiple trackers.
type StateStore interface {
	Load(ctx context.Context, venueID, chainID string) (market.ReliabilityRecord, bool, error)
	Save(ctx context.Context, record market.ReliabilityRecord) error
}

// Tracker scores venues from observed outcomes. Updates for the same
// (venue, chain) key are serialised through a per-key mutex; distinct keys
// require no coordination.
type Tracker struct {
	store  StateStore
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker constructs a Tracker over the given state store.
func NewTracker(store StateStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With().Str("component", "reliability").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// RecordObservation upserts the reliability record for a venue/chain pair.
// Failed fetches are penalised five points down to a floor of 50; once the
// sample exceeds ten observations the score is recomputed from the success
// rate with a latency penalty of up to ten points for slow venues.
func (t *Tracker) RecordObservation(ctx context.Context, venueID, chainID string, success bool, latencySeconds float64) {
	lock := t.keyLock(venueID, chainID)
	lock.Lock()
	defer lock.Unlock()

	record, found, err := t.store.Load(ctx, venueID, chainID)
	if err != nil {
		t.logger.Error().Err(err).Str("venue", venueID).Str("chain", chainID).Msg("load reliability record failed")
		return
	}
	if !found {
		record = market.ReliabilityRecord{VenueID: venueID, ChainID: chainID, Score: DefaultScore}
	}

	if success {
		record.SuccessCount++
		if latencySeconds > 0 {
			if record.AvgLatencySeconds == 0 {
				record.AvgLatencySeconds = latencySeconds
			} else {
				record.AvgLatencySeconds = record.AvgLatencySeconds*(1-latencyEMAAlpha) + latencySeconds*latencyEMAAlpha
			}
		}
	} else {
		record.FailureCount++
		record.Score = record.Score - failurePenalty
		if record.Score < scoreFloor {
			record.Score = scoreFloor
		}
	}

	total := record.SuccessCount + record.FailureCount
	if total > minSampleSize {
		record.Score = float64(record.SuccessCount) / float64(total) * 100.0
		if record.AvgLatencySeconds > slowLatencySeconds {
			penalty := record.AvgLatencySeconds - slowLatencySeconds
			if penalty > latencyPenaltyMax {
				penalty = latencyPenaltyMax
			}
			record.Score -= penalty
		}
		if record.Score < scoreFloor {
			record.Score = scoreFloor
		}
	}
	record.Score = clampScore(record.Score)

	record.History = append(record.History, market.Observation{
		Success:        success,
		LatencySeconds: latencySeconds,
		At:             time.Now().UTC(),
	})
	if len(record.History) > historyLimit {
		record.History = record.History[len(record.History)-historyLimit:]
	}

	if err := t.store.Save(ctx, record); err != nil {
		t.logger.Error().Err(err).Str("venue", venueID).Str("chain", chainID).Msg("save reliability record failed")
	}
}

// Score returns the current score for a venue/chain pair, defaulting to
// 100 for unseen venues.
func (t *Tracker) Score(ctx context.Context, venueID, chainID string) float64 {
	record, found, err := t.store.Load(ctx, venueID, chainID)
	if err != nil {
		t.logger.Error().Err(err).Str("venue", venueID).Str("chain", chainID).Msg("load reliability record failed")
		return DefaultScore
	}
	if !found {
		return DefaultScore
	}
	return clampScore(record.Score)
}

func (t *Tracker) keyLock(venueID, chainID string) *sync.Mutex {
	key := venueID + "|" + chainID
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[key] = lock
	}
	return lock
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

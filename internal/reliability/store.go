package reliability

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"dexwatch/internal/market"
)

// MemoryStore keeps reliability state in process memory. State does not
// survive a restart; scores rebuild from the optimistic prior.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]market.ReliabilityRecord
}

// NewMemoryStore constructs an empty in-process state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]market.ReliabilityRecord)}
}

// Load returns the record for a venue/chain pair if present.
func (s *MemoryStore) Load(_ context.Context, venueID, chainID string) (market.ReliabilityRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[venueID+"|"+chainID]
	return record, ok, nil
}

// Save stores the record, overwriting any previous state for the key.
func (s *MemoryStore) Save(_ context.Context, record market.ReliabilityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.VenueID+"|"+record.ChainID] = record
	return nil
}

var _ StateStore = (*MemoryStore)(nil)

// RedisStore backs reliability state with Redis so that scores are shared
// across instances in a multi-replica deployment. Observation history is
// process-local only and not persisted.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wires a redis client into a state store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "dexwatch:reliability:"}
}

// Load fetches the record hash for a venue/chain pair.
func (s *RedisStore) Load(ctx context.Context, venueID, chainID string) (market.ReliabilityRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(venueID, chainID)).Result()
	if err != nil {
		return market.ReliabilityRecord{}, false, err
	}
	if len(fields) == 0 {
		return market.ReliabilityRecord{}, false, nil
	}

	record := market.ReliabilityRecord{VenueID: venueID, ChainID: chainID, Score: DefaultScore}
	if v, ok := fields["score"]; ok {
		record.Score, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := fields["success_count"]; ok {
		record.SuccessCount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["failure_count"]; ok {
		record.FailureCount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["avg_latency_seconds"]; ok {
		record.AvgLatencySeconds, _ = strconv.ParseFloat(v, 64)
	}
	return record, true, nil
}

// Save writes the record hash. Records are never deleted, only updated.
func (s *RedisStore) Save(ctx context.Context, record market.ReliabilityRecord) error {
	return s.client.HSet(ctx, s.key(record.VenueID, record.ChainID), map[string]interface{}{
		"score":               strconv.FormatFloat(record.Score, 'f', -1, 64),
		"success_count":       strconv.FormatInt(record.SuccessCount, 10),
		"failure_count":       strconv.FormatInt(record.FailureCount, 10),
		"avg_latency_seconds": strconv.FormatFloat(record.AvgLatencySeconds, 'f', -1, 64),
	}).Err()
}

func (s *RedisStore) key(venueID, chainID string) string {
	return s.prefix + venueID + ":" + chainID
}

var _ StateStore = (*RedisStore)(nil)

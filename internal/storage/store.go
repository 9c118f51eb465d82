package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dexwatch/internal/config"
	"dexwatch/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// PriceStore defines operations for price quote persistence. The current
// row per (asset, chain, venue) key follows last-write-wins upsert
// semantics; every upsert also appends to the quote history used by
// analytics.
type PriceStore interface {
	UpsertQuote(ctx context.Context, quote market.PriceQuote) error
	ListQuotes(ctx context.Context, assetID, chainID, venueID string) ([]market.PriceQuote, error)
	ListQuoteHistory(ctx context.Context, assetID string, from, to time.Time) ([]market.PriceQuote, error)
	DistinctAssets(ctx context.Context) ([]string, error)
}

// OpportunityStore defines operations for arbitrage opportunity persistence.
type OpportunityStore interface {
	UpsertOpportunity(ctx context.Context, opp market.ArbitrageOpportunity) (market.ArbitrageOpportunity, error)
	ListActiveOpportunities(ctx context.Context, assetID string) ([]market.ArbitrageOpportunity, error)
	ListOpportunitiesBetween(ctx context.Context, assetID string, from, to time.Time) ([]market.ArbitrageOpportunity, error)
	DeactivateOpportunity(ctx context.Context, id int64) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dexwatch/internal/market"
)

const (
	upsertQuoteSQL = `INSERT INTO price_quotes (
        asset_id,
        chain_id,
        venue_id,
        price_usd,
        volume_24h,
        liquidity,
        slippage_1k,
        slippage_10k,
        slippage_100k,
        fee_percent,
        reliability_score,
        observed_at,
        raw
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (asset_id, chain_id, venue_id) DO UPDATE
    SET
        price_usd         = EXCLUDED.price_usd,
        volume_24h        = EXCLUDED.volume_24h,
        liquidity         = EXCLUDED.liquidity,
        slippage_1k       = EXCLUDED.slippage_1k,
        slippage_10k      = EXCLUDED.slippage_10k,
        slippage_100k     = EXCLUDED.slippage_100k,
        fee_percent       = EXCLUDED.fee_percent,
        reliability_score = EXCLUDED.reliability_score,
        observed_at       = EXCLUDED.observed_at,
        raw               = EXCLUDED.raw;`

	appendQuoteHistorySQL = `INSERT INTO price_history (
        asset_id,
        chain_id,
        venue_id,
        price_usd,
        liquidity,
        observed_at
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	quoteColumns = `asset_id,
        chain_id,
        venue_id,
        price_usd,
        volume_24h,
        liquidity,
        slippage_1k,
        slippage_10k,
        slippage_100k,
        fee_percent,
        reliability_score,
        observed_at,
        raw`

	listQuotesSQL = `SELECT ` + quoteColumns + `
    FROM price_quotes
    WHERE asset_id = $1
      AND ($2 = '' OR chain_id = $2)
      AND ($3 = '' OR venue_id = $3)
    ORDER BY chain_id, venue_id;`

	listQuoteHistorySQL = `SELECT
        asset_id,
        chain_id,
        venue_id,
        price_usd,
        liquidity,
        observed_at
    FROM price_history
    WHERE asset_id = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	distinctAssetsSQL = `SELECT DISTINCT asset_id FROM price_quotes ORDER BY asset_id;`

	upsertOpportunitySQL = `INSERT INTO arbitrage_opportunities (
        asset_id,
        source_chain,
        source_venue,
        target_chain,
        target_venue,
        source_price_usd,
        target_price_usd,
        gross_profit_pct,
        estimated_fee_pct,
        net_profit_pct,
        is_cross_chain,
        is_active,
        detected_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,TRUE,$12
    )
    ON CONFLICT (asset_id, source_chain, source_venue, target_chain, target_venue) WHERE is_active DO UPDATE
    SET
        source_price_usd  = EXCLUDED.source_price_usd,
        target_price_usd  = EXCLUDED.target_price_usd,
        gross_profit_pct  = EXCLUDED.gross_profit_pct,
        estimated_fee_pct = EXCLUDED.estimated_fee_pct,
        net_profit_pct    = EXCLUDED.net_profit_pct,
        detected_at       = EXCLUDED.detected_at
    RETURNING id, (xmax = 0) AS inserted;`

	opportunityColumns = `id,
        asset_id,
        source_chain,
        source_venue,
        target_chain,
        target_venue,
        source_price_usd,
        target_price_usd,
        gross_profit_pct,
        estimated_fee_pct,
        net_profit_pct,
        is_cross_chain,
        is_active,
        detected_at`

	listActiveOpportunitiesSQL = `SELECT ` + opportunityColumns + `
    FROM arbitrage_opportunities
    WHERE is_active
      AND ($1 = '' OR asset_id = $1)
    ORDER BY net_profit_pct DESC;`

	listOpportunitiesBetweenSQL = `SELECT ` + opportunityColumns + `
    FROM arbitrage_opportunities
    WHERE asset_id = $1
      AND detected_at >= $2
      AND detected_at < $3
    ORDER BY detected_at;`

	deactivateOpportunitySQL = `UPDATE arbitrage_opportunities
    SET is_active = FALSE
    WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store aggregates access to price quotes and arbitrage opportunities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertQuote persists the current quote for its (asset, chain, venue) key
// and appends a history row in the same transaction.
func (s *Store) UpsertQuote(ctx context.Context, quote market.PriceQuote) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin quote upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, execErr := tx.Exec(ctx, upsertQuoteSQL,
		quote.AssetID,
		quote.ChainID,
		quote.VenueID,
		quote.PriceUSD.String(),
		nullableDecimal(quote.Volume24h),
		nullableDecimal(quote.Liquidity),
		nullableDecimal(quote.Slippage1k),
		nullableDecimal(quote.Slippage10k),
		nullableDecimal(quote.Slippage100k),
		nullableDecimal(quote.FeePercent),
		quote.ReliabilityScore,
		quote.ObservedAt,
		[]byte(quote.Raw),
	)
	if execErr != nil {
		return fmt.Errorf("upsert price quote: %w", execErr)
	}

	_, execErr = tx.Exec(ctx, appendQuoteHistorySQL,
		quote.AssetID,
		quote.ChainID,
		quote.VenueID,
		quote.PriceUSD.String(),
		nullableDecimal(quote.Liquidity),
		quote.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("append quote history: %w", execErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit quote upsert: %w", err)
	}
	return nil
}

// ListQuotes returns the current quotes for an asset, optionally narrowed
// by chain and venue. Empty filter values match everything.
func (s *Store) ListQuotes(ctx context.Context, assetID, chainID, venueID string) ([]market.PriceQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listQuotesSQL, assetID, chainID, venueID)
	if queryErr != nil {
		return nil, fmt.Errorf("list quotes: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]market.PriceQuote, 0)
	for rows.Next() {
		quote, scanErr := scanQuote(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		quotes = append(quotes, quote)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// ListQuoteHistory returns historical observations for an asset within a
// time window, ordered by observation time.
func (s *Store) ListQuoteHistory(ctx context.Context, assetID string, from, to time.Time) ([]market.PriceQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listQuoteHistorySQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list quote history: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]market.PriceQuote, 0)
	for rows.Next() {
		var (
			quote     market.PriceQuote
			priceStr  string
			liquidity sql.NullString
		)
		if err := rows.Scan(
			&quote.AssetID,
			&quote.ChainID,
			&quote.VenueID,
			&priceStr,
			&liquidity,
			&quote.ObservedAt,
		); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse history price: %w", convErr)
		}
		quote.PriceUSD = price
		if liquidity.Valid {
			liq, convErr := decimal.NewFromString(liquidity.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse history liquidity: %w", convErr)
			}
			quote.Liquidity = &liq
		}
		quotes = append(quotes, quote)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// DistinctAssets enumerates assets with at least one stored quote. Used to
// drive the scheduled arbitrage sweep.
func (s *Store) DistinctAssets(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, distinctAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("distinct assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]string, 0)
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// UpsertOpportunity inserts a new active opportunity or refreshes the
// existing active row for the same ordered venue/chain pair.
func (s *Store) UpsertOpportunity(ctx context.Context, opp market.ArbitrageOpportunity) (market.ArbitrageOpportunity, error) {
	pool, err := s.getPool()
	if err != nil {
		return market.ArbitrageOpportunity{}, err
	}

	row := pool.QueryRow(ctx, upsertOpportunitySQL,
		opp.AssetID,
		opp.SourceChain,
		opp.SourceVenue,
		opp.TargetChain,
		opp.TargetVenue,
		opp.SourcePriceUSD.String(),
		opp.TargetPriceUSD.String(),
		opp.GrossProfitPercent.String(),
		opp.EstimatedFeePercent.String(),
		opp.NetProfitPercent.String(),
		opp.IsCrossChain,
		opp.DetectedAt,
	)

	var inserted bool
	if scanErr := row.Scan(&opp.ID, &inserted); scanErr != nil {
		return market.ArbitrageOpportunity{}, fmt.Errorf("upsert opportunity: %w", scanErr)
	}
	opp.IsActive = true
	return opp, nil
}

// ListActiveOpportunities returns active opportunities, newest profit first.
// An empty assetID matches all assets.
func (s *Store) ListActiveOpportunities(ctx context.Context, assetID string) ([]market.ArbitrageOpportunity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveOpportunitiesSQL, assetID)
	if queryErr != nil {
		return nil, fmt.Errorf("list active opportunities: %w", queryErr)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

// ListOpportunitiesBetween returns opportunity history for analytics.
func (s *Store) ListOpportunitiesBetween(ctx context.Context, assetID string, from, to time.Time) ([]market.ArbitrageOpportunity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpportunitiesBetweenSQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list opportunities between: %w", queryErr)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

// DeactivateOpportunity soft-retires an opportunity. Rows are never deleted.
func (s *Store) DeactivateOpportunity(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deactivateOpportunitySQL, id)
	if execErr != nil {
		return fmt.Errorf("deactivate opportunity: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func collectOpportunities(rows pgx.Rows) ([]market.ArbitrageOpportunity, error) {
	opportunities := make([]market.ArbitrageOpportunity, 0)
	for rows.Next() {
		opp, scanErr := scanOpportunity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		opportunities = append(opportunities, opp)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return opportunities, nil
}

func scanQuote(rows pgx.Rows) (market.PriceQuote, error) {
	var (
		quote        market.PriceQuote
		priceStr     string
		volume       sql.NullString
		liquidity    sql.NullString
		slippage1k   sql.NullString
		slippage10k  sql.NullString
		slippage100k sql.NullString
		feePercent   sql.NullString
		raw          []byte
	)

	if err := rows.Scan(
		&quote.AssetID,
		&quote.ChainID,
		&quote.VenueID,
		&priceStr,
		&volume,
		&liquidity,
		&slippage1k,
		&slippage10k,
		&slippage100k,
		&feePercent,
		&quote.ReliabilityScore,
		&quote.ObservedAt,
		&raw,
	); err != nil {
		return market.PriceQuote{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return market.PriceQuote{}, fmt.Errorf("parse price: %w", err)
	}
	quote.PriceUSD = price
	quote.Raw = json.RawMessage(raw)

	for _, field := range []struct {
		src sql.NullString
		dst **decimal.Decimal
	}{
		{volume, &quote.Volume24h},
		{liquidity, &quote.Liquidity},
		{slippage1k, &quote.Slippage1k},
		{slippage10k, &quote.Slippage10k},
		{slippage100k, &quote.Slippage100k},
		{feePercent, &quote.FeePercent},
	} {
		if !field.src.Valid {
			continue
		}
		value, convErr := decimal.NewFromString(field.src.String)
		if convErr != nil {
			return market.PriceQuote{}, fmt.Errorf("parse quote field: %w", convErr)
		}
		*field.dst = &value
	}

	return quote, nil
}

func scanOpportunity(rows pgx.Rows) (market.ArbitrageOpportunity, error) {
	var (
		opp       market.ArbitrageOpportunity
		sourceStr string
		targetStr string
		grossStr  string
		feeStr    string
		netStr    string
	)

	if err := rows.Scan(
		&opp.ID,
		&opp.AssetID,
		&opp.SourceChain,
		&opp.SourceVenue,
		&opp.TargetChain,
		&opp.TargetVenue,
		&sourceStr,
		&targetStr,
		&grossStr,
		&feeStr,
		&netStr,
		&opp.IsCrossChain,
		&opp.IsActive,
		&opp.DetectedAt,
	); err != nil {
		return market.ArbitrageOpportunity{}, err
	}

	var convErr error
	if opp.SourcePriceUSD, convErr = decimal.NewFromString(sourceStr); convErr != nil {
		return market.ArbitrageOpportunity{}, fmt.Errorf("parse source price: %w", convErr)
	}
	if opp.TargetPriceUSD, convErr = decimal.NewFromString(targetStr); convErr != nil {
		return market.ArbitrageOpportunity{}, fmt.Errorf("parse target price: %w", convErr)
	}
	if opp.GrossProfitPercent, convErr = decimal.NewFromString(grossStr); convErr != nil {
		return market.ArbitrageOpportunity{}, fmt.Errorf("parse gross profit: %w", convErr)
	}
	if opp.EstimatedFeePercent, convErr = decimal.NewFromString(feeStr); convErr != nil {
		return market.ArbitrageOpportunity{}, fmt.Errorf("parse estimated fee: %w", convErr)
	}
	if opp.NetProfitPercent, convErr = decimal.NewFromString(netStr); convErr != nil {
		return market.ArbitrageOpportunity{}, fmt.Errorf("parse net profit: %w", convErr)
	}

	return opp, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

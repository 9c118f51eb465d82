package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"dexwatch/internal/arbitrage"
	"dexwatch/internal/market"
)

// Scan runs a one-shot arbitrage detection pass for a single asset and
// prints the surviving opportunities.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	if opts.AssetID == "" {
		return errors.New("--asset is required")
	}

	c, err := a.buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	found, err := c.engine.Scan(ctx, opts.AssetID)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(os.Stdout, "no opportunities found")
		return nil
	}

	printOpportunities(found)
	return nil
}

// Best queries the best execution price for an asset and prints the
// ranked quote set.
func (a *App) Best(ctx context.Context, opts BestOptions) error {
	if opts.AssetID == "" {
		return errors.New("--asset is required")
	}

	c, err := a.buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	result, err := c.aggregator.GetBestPrice(ctx, opts.AssetID, opts.ChainID, opts.VenueID, opts.AmountUSD)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "best: %s @ %s ($%s)  spread %s%%\n",
		result.Best.VenueID,
		result.Best.ChainID,
		result.Best.PriceUSD.StringFixed(6),
		result.SpreadPercent.StringFixed(3),
	)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Venue\tChain\tPrice USD\tLiquidity\tReliability\tObserved (UTC)")
	for _, quote := range result.All {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%.1f\t%s\n",
			quote.VenueID,
			quote.ChainID,
			quote.PriceUSD.StringFixed(6),
			formatOptional(quote.Liquidity),
			quote.ReliabilityScore,
			quote.ObservedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

// Show prints active (or recent historical) opportunities.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	c, err := a.buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.close()
	if c.store == nil {
		return errors.New("database not configured; cannot show opportunities")
	}

	var opportunities []market.ArbitrageOpportunity
	if opts.History {
		if opts.AssetID == "" {
			return errors.New("--asset is required with --history")
		}
		to := time.Now().UTC()
		opportunities, err = c.store.ListOpportunitiesBetween(ctx, opts.AssetID, to.Add(-24*time.Hour), to)
	} else {
		opportunities, err = c.engine.ActiveOpportunities(ctx, opts.AssetID, arbitrage.Filters{Limit: opts.Limit})
	}
	if err != nil {
		return err
	}
	if len(opportunities) == 0 {
		fmt.Fprintln(os.Stdout, "no opportunities found")
		return nil
	}
	if opts.Limit > 0 && len(opportunities) > opts.Limit {
		opportunities = opportunities[:opts.Limit]
	}

	printOpportunities(opportunities)
	return nil
}

func printOpportunities(opportunities []market.ArbitrageOpportunity) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Asset\tBuy\tSell\tGross%\tFees%\tNet%\tCross\tActive\tDetected (UTC)")
	for _, opp := range opportunities {
		fmt.Fprintf(writer, "%s\t%s@%s\t%s@%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
			opp.AssetID,
			opp.SourceVenue, opp.SourceChain,
			opp.TargetVenue, opp.TargetChain,
			opp.GrossProfitPercent.StringFixed(2),
			opp.EstimatedFeePercent.StringFixed(2),
			opp.NetProfitPercent.StringFixed(2),
			opp.IsCrossChain,
			opp.IsActive,
			opp.DetectedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(0)
}

package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dexwatch/internal/app"
)

var (
	bestAsset  string
	bestChain  string
	bestVenue  string
	bestAmount string
)

var bestCmd = &cobra.Command{
	Use:   "best",
	Short: "Query the best execution price for an asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BestOptions{
			AssetID: bestAsset,
			ChainID: bestChain,
			VenueID: bestVenue,
		}

		if bestAmount != "" {
			amount, err := decimal.NewFromString(bestAmount)
			if err != nil {
				return fmt.Errorf("invalid --amount value: %w", err)
			}
			opts.AmountUSD = amount
		}

		return getApp().Best(cmd.Context(), opts)
	},
}

func init() {
	bestCmd.Flags().StringVar(&bestAsset, "asset", "", "Asset symbol to query (required)")
	bestCmd.Flags().StringVar(&bestChain, "chain", "", "Restrict to one chain")
	bestCmd.Flags().StringVar(&bestVenue, "venue", "", "Restrict to one venue")
	bestCmd.Flags().StringVar(&bestAmount, "amount", "", "Trade size in USD for slippage-adjusted ranking")
	_ = bestCmd.MarkFlagRequired("asset")
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dexwatch/internal/app"
)

var (
	showAsset   string
	showLimit   int
	showHistory bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display active or recent arbitrage opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			AssetID: showAsset,
			Limit:   showLimit,
			History: showHistory,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showAsset, "asset", "", "Restrict to one asset")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of opportunities to display")
	showCmd.Flags().BoolVar(&showHistory, "history", false, "Show the last 24h of opportunities instead of the active set")
}

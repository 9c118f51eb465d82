package cli

import (
	"github.com/spf13/cobra"

	"dexwatch/internal/app"
)

var scanAsset string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot arbitrage scan for an asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), app.ScanOptions{AssetID: scanAsset})
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanAsset, "asset", "", "Asset symbol to scan (required)")
	_ = scanCmd.MarkFlagRequired("asset")
}

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"dexwatch/internal/analytics"
)

// Export renders historical spread data for an asset as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.AssetID == "" {
		return errors.New("--asset is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	c, err := a.buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.close()
	if c.store == nil {
		return errors.New("database not configured; cannot export")
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	history, err := c.store.ListQuoteHistory(ctx, opts.AssetID, from, to)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		a.Logger.Info().Str("asset", opts.AssetID).Msg("no quote history found for export window")
		return nil
	}

	buckets := downsampleBuckets(analytics.BucketSpreads(history), opts.MaxPoints)
	a.Logger.Info().Int("observations", len(history)).Int("buckets", len(buckets)).Msg("exporting spread history")

	if opts.CSVPath != "" {
		if err := writeBucketsCSV(opts.CSVPath, opts.AssetID, buckets); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeBucketsPNG(opts.PNGPath, buckets); err != nil {
			return err
		}
	}

	return nil
}

func downsampleBuckets(buckets []analytics.SpreadBucket, max int) []analytics.SpreadBucket {
	if max <= 0 || len(buckets) <= max {
		return buckets
	}

	result := make([]analytics.SpreadBucket, 0, max)
	step := float64(len(buckets)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(buckets) {
			idx = len(buckets) - 1
		}
		result = append(result, buckets[idx])
	}
	return result
}

func writeBucketsCSV(path, assetID string, buckets []analytics.SpreadBucket) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"hour", "asset_id", "quote_count", "min_price_usd", "max_price_usd", "spread_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, bucket := range buckets {
		record := []string{
			bucket.Hour.UTC().Format(time.RFC3339),
			assetID,
			strconv.Itoa(bucket.QuoteCount),
			bucket.MinPriceUSD.String(),
			bucket.MaxPriceUSD.String(),
			bucket.SpreadPercent.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeBucketsPNG(path string, buckets []analytics.SpreadBucket) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(buckets))
	minPrice := make([]float64, len(buckets))
	maxPrice := make([]float64, len(buckets))
	spread := make([]float64, len(buckets))

	for i, bucket := range buckets {
		x[i] = bucket.Hour
		minPrice[i] = bucket.MinPriceUSD.InexactFloat64()
		maxPrice[i] = bucket.MaxPriceUSD.InexactFloat64()
		spread[i] = bucket.SpreadPercent.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Spread (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Min price",
				XValues: x,
				YValues: minPrice,
			},
			chart.TimeSeries{
				Name:    "Max price",
				XValues: x,
				YValues: maxPrice,
			},
			chart.TimeSeries{
				Name:    "Spread %",
				XValues: x,
				YValues: spread,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}


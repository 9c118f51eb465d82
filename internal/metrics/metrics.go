// Package metrics exposes prometheus collectors for the aggregation and
// arbitrage pipeline, plus an optional /metrics listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// VenueFetchLatency observes adapter round-trip time per venue.
	VenueFetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dexwatch_venue_fetch_seconds",
		Help:    "Time to fetch a quote from a venue adapter",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue"})

	// VenueFetchErrors counts failed venue fetch attempts.
	VenueFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexwatch_venue_fetch_errors_total",
		Help: "Number of venue fetch failures",
	}, []string{"venue"})

	// CacheHits counts fresh in-memory cache reads.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_price_cache_hits_total",
		Help: "Price cache hits served from memory",
	})

	// CacheMisses counts reads that fell through to the store.
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_price_cache_misses_total",
		Help: "Price cache misses that consulted the persistent store",
	})

	// ActiveOpportunities gauges currently active arbitrage opportunities.
	ActiveOpportunities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dexwatch_active_opportunities",
		Help: "Number of currently active arbitrage opportunities",
	})

	// BridgeFeeFallbacks counts resolutions served by static defaults.
	BridgeFeeFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_bridge_fee_fallbacks_total",
		Help: "Bridge fee lookups that fell back to static defaults",
	})
)

func init() {
	prometheus.MustRegister(
		VenueFetchLatency,
		VenueFetchErrors,
		CacheHits,
		CacheMisses,
		ActiveOpportunities,
		BridgeFeeFallbacks,
	)
}

// Serve starts the metrics listener and shuts it down when ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	if addr == "" {
		return
	}

	log := logger.With().Str("component", "metrics").Logger()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

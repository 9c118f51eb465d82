// Package bridge estimates the cost of moving value between chains. A
// fixed-priority chain of external fee providers is consulted with per-call
// timeouts and circuit breakers; when every provider fails the resolver
// degrades to deterministic static defaults rather than surfacing an error.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"dexwatch/internal/market"
	"dexwatch/internal/metrics"
)

// DefaultPercentageFee is the fallback bridging fee when no provider answers.
var DefaultPercentageFee = decimal.NewFromFloat(0.5)

// FeeProvider quotes bridging costs for one external fee API.
type FeeProvider interface {
	Name() string
	Quote(ctx context.Context, sourceChain, targetChain string) (market.BridgeFeeQuote, error)
}

// Resolver owns BridgeFeeQuote lifetime. Successful quotes are cached per
// chain pair for the process lifetime; bridge economics change slowly.
type Resolver struct {
	providers []FeeProvider
	breakers  map[string]*gobreaker.CircuitBreaker
	timeout   time.Duration
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]market.BridgeFeeQuote
}

// NewResolver constructs a resolver trying providers in the given order.
func NewResolver(providers []FeeProvider, timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    p.Name(),
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return &Resolver{
		providers: providers,
		breakers:  breakers,
		timeout:   timeout,
		logger:    logger.With().Str("component", "bridge_resolver").Logger(),
		cache:     make(map[string]market.BridgeFeeQuote),
	}
}

// Fee resolves the bridging cost between two chains. It never returns an
// error: a provider failure advances to the next provider, and exhausting
// all providers yields the static default for the pair.
func (r *Resolver) Fee(ctx context.Context, sourceChain, targetChain string) market.BridgeFeeQuote {
	if sourceChain == targetChain {
		return market.BridgeFeeQuote{
			SourceChain:   sourceChain,
			TargetChain:   targetChain,
			BridgeName:    "none",
			FixedFeeUSD:   decimal.Zero,
			PercentageFee: decimal.Zero,
		}
	}

	key := sourceChain + "->" + targetChain
	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	for _, provider := range r.providers {
		quote, err := r.tryProvider(ctx, provider, sourceChain, targetChain)
		if err != nil {
			r.logger.Debug().Err(err).Str("provider", provider.Name()).Str("pair", key).Msg("bridge fee provider failed")
			continue
		}

		r.mu.Lock()
		r.cache[key] = quote
		r.mu.Unlock()
		return quote
	}

	metrics.BridgeFeeFallbacks.Inc()
	r.logger.Warn().Str("pair", key).Msg("all bridge fee providers failed, using static default")
	return StaticDefault(sourceChain, targetChain)
}

// Invalidate drops the cached quote for a chain pair.
func (r *Resolver) Invalidate(sourceChain, targetChain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, sourceChain+"->"+targetChain)
}

func (r *Resolver) tryProvider(ctx context.Context, provider FeeProvider, sourceChain, targetChain string) (market.BridgeFeeQuote, error) {
	breaker := r.breakers[provider.Name()]

	result, err := breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return provider.Quote(callCtx, sourceChain, targetChain)
	})
	if err != nil {
		return market.BridgeFeeQuote{}, err
	}

	quote, ok := result.(market.BridgeFeeQuote)
	if !ok || quote.BridgeName == "" {
		return market.BridgeFeeQuote{}, fmt.Errorf("provider %s returned an empty quote", provider.Name())
	}
	return quote, nil
}

// StaticDefault returns the deterministic fallback quote for a chain pair.
// Pairs touching a non-EVM chain assume a slower, costlier route.
func StaticDefault(sourceChain, targetChain string) market.BridgeFeeQuote {
	quote := market.BridgeFeeQuote{
		SourceChain:          sourceChain,
		TargetChain:          targetChain,
		BridgeName:           "static-default",
		FixedFeeUSD:          decimal.NewFromInt(1),
		PercentageFee:        DefaultPercentageFee,
		EstimatedTimeSeconds: 600,
	}
	if sourceChain == "solana" || targetChain == "solana" {
		quote.FixedFeeUSD = decimal.NewFromFloat(2.5)
		quote.EstimatedTimeSeconds = 1800
	}
	return quote
}

// Package app aggregates configuration and dependency wiring for the CLI
// commands.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexwatch/internal/aggregator"
	"dexwatch/internal/alerting"
	"dexwatch/internal/analytics"
	"dexwatch/internal/arbitrage"
	"dexwatch/internal/bridge"
	"dexwatch/internal/config"
	"dexwatch/internal/jobs"
	"dexwatch/internal/metrics"
	"dexwatch/internal/pricecache"
	"dexwatch/internal/ratelimit"
	"dexwatch/internal/reliability"
	"dexwatch/internal/scheduler"
	"dexwatch/internal/service"
	"dexwatch/internal/storage"
	"dexwatch/internal/venue"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// core bundles the wired domain components behind one construction path so
// every command sees the same graph.
type core struct {
	store      *storage.Store
	cache      *pricecache.Cache
	tracker    *reliability.Tracker
	aggregator *aggregator.Service
	engine     *arbitrage.Engine
	queue      *jobs.Queue
	analytics  *analytics.Service
	closeStore func()
}

func (c *core) close() {
	if c.closeStore != nil {
		c.closeStore()
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newTracker() *reliability.Tracker {
	var state reliability.StateStore
	switch a.Config.Reliability.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Reliability.Redis.Addr,
			Password: a.Config.Reliability.Redis.Password,
			DB:       a.Config.Reliability.Redis.DB,
		})
		state = reliability.NewRedisStore(client)
	default:
		state = reliability.NewMemoryStore()
	}
	return reliability.NewTracker(state, a.Logger)
}

func (a *App) newAdapters(observer venue.Observer) []venue.Adapter {
	adapters := make([]venue.Adapter, 0, 3)

	if a.Config.Venues.Dexscreener.Enabled {
		cfg := a.Config.Venues.Dexscreener
		adapters = append(adapters, venue.NewDexscreener(venue.DexscreenerOptions{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.RequestTimeout,
			UserAgent: cfg.UserAgent,
			Chains:    cfg.Chains,
			Limiter:   ratelimit.PerMinute(cfg.RatePerMinute),
		}, observer, a.Logger))
	}

	if a.Config.Venues.Geckoterminal.Enabled {
		cfg := a.Config.Venues.Geckoterminal
		adapters = append(adapters, venue.NewGeckoterminal(venue.GeckoterminalOptions{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.RequestTimeout,
			UserAgent: cfg.UserAgent,
			Chains:    cfg.Chains,
			Limiter:   ratelimit.PerMinute(cfg.RatePerMinute),
		}, observer, a.Logger))
	}

	if a.Config.Venues.Onchain.Enabled {
		adapters = append(adapters, venue.NewOnchain(a.Config.Venues.Onchain, observer, a.Logger))
	}

	return adapters
}

func (a *App) newBridgeResolver() *bridge.Resolver {
	cfg := a.Config.Bridge
	providers := []bridge.FeeProvider{
		bridge.NewLiFiProvider(cfg.LiFiBaseURL, cfg.RequestTimeout),
		bridge.NewSocketProvider(cfg.SocketBaseURL, cfg.RequestTimeout),
	}
	return bridge.NewResolver(providers, cfg.RequestTimeout, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// buildCore wires the full component graph. The returned core must be
// closed by the caller.
func (a *App) buildCore(ctx context.Context) (*core, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}

	var priceStore storage.PriceStore
	if store != nil {
		priceStore = store
	}

	tracker := a.newTracker()
	cache := pricecache.New(priceStore, a.Config.Cache.TTL, a.Logger)

	agg := aggregator.New(a.newAdapters(tracker), cache, tracker, a.Config.Reliability.MinScore, a.Logger)

	queue := jobs.NewQueue(a.Config.Cache.RefreshQueue, agg.Refresh, a.Logger)
	cache.SetRefreshHook(queue.Enqueue)
	agg.SetRefreshHook(queue.Enqueue)

	engine := arbitrage.NewEngine(arbitrage.Options{
		Quotes:           agg,
		Store:            store,
		Assets:           store,
		Fees:             a.newBridgeResolver(),
		Notifier:         a.newNotifier(),
		MinProfitPercent: decimal.NewFromFloat(a.Config.Arbitrage.MinProfitPercent),
	}, a.Logger)

	return &core{
		store:      store,
		cache:      cache,
		tracker:    tracker,
		aggregator: agg,
		engine:     engine,
		queue:      queue,
		analytics:  analytics.New(store, store, a.Logger),
		closeStore: closeStore,
	}, nil
}

// Run executes the long-running aggregation and scan service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := a.buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	c.queue.Start(ctx, a.Config.Cache.RefreshWorkers)

	if a.Config.Metrics.Enabled {
		go metrics.Serve(ctx, a.Config.Metrics.Addr, a.Logger)
	}

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.ScanInterval,
		AlignToInterval: a.Config.Scheduler.AlignToBucket,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var locker storage.AdvisoryLocker
	if c.store != nil {
		locker = c.store
	}

	svc := service.New(service.Options{
		Scheduler:   sched,
		Engine:      c.engine,
		Refresher:   c.aggregator,
		Recent:      c.cache,
		Locker:      locker,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
		SweepWindow: 10 * a.Config.Scheduler.ScanInterval,
	}, a.Logger)

	a.Logger.Info().Msg("starting dexwatch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("dexwatch service stopped")
	return nil
}

// ScanOptions configure the one-shot scan command.
type ScanOptions struct {
	AssetID string
}

// BestOptions configure the best-price query.
type BestOptions struct {
	AssetID   string
	ChainID   string
	VenueID   string
	AmountUSD decimal.Decimal
}

// ShowOptions configure the show command.
type ShowOptions struct {
	AssetID string
	Limit   int
	History bool
}

// ExportOptions hold parameters for exporting historical analytics.
type ExportOptions struct {
	AssetID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

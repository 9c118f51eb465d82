// Package service ties the scheduler to the arbitrage sweep and the cache
// refresh loop.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dexwatch/internal/arbitrage"
	"dexwatch/internal/scheduler"
	"dexwatch/internal/storage"
)

// Refresher triggers asynchronous quote refreshes.
type Refresher interface {
	TriggerRefresh(assetID string)
}

// RecentlyQueriedLister exposes which assets were recently read through
// the cache and should be kept warm.
type RecentlyQueriedLister interface {
	RecentlyQueried(window time.Duration) []string
}

// Service orchestrates the scheduled arbitrage scans and the cache sweep.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    *arbitrage.Engine
	refresher Refresher
	recent    RecentlyQueriedLister
	locker    storage.AdvisoryLocker
	lockKey   int64
	window    time.Duration
	logger    zerolog.Logger
}

// Options configures a Service. Locker is optional; without it (or with a
// zero lock key) every replica scans on its own.
type Options struct {
	Scheduler   *scheduler.Scheduler
	Engine      *arbitrage.Engine
	Refresher   Refresher
	Recent      RecentlyQueriedLister
	Locker      storage.AdvisoryLocker
	LockKey     int64
	SweepWindow time.Duration
}

// New constructs the orchestration service.
func New(opts Options, logger zerolog.Logger) *Service {
	window := opts.SweepWindow
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Service{
		scheduler: opts.Scheduler,
		engine:    opts.Engine,
		refresher: opts.Refresher,
		recent:    opts.Recent,
		locker:    opts.Locker,
		lockKey:   opts.LockKey,
		window:    window,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled scan loop, blocking until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick executes one scheduled pass: refresh recently queried assets,
// then sweep every known asset for arbitrage. The advisory lock keeps the
// sweep single-flight across replicas.
func (s *Service) ProcessTick(ctx context.Context, tickAt time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tickAt).Msg("skip tick, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	s.sweepCache()

	if s.engine != nil {
		if scanErr := s.engine.ScanAll(ctx); scanErr != nil {
			return fmt.Errorf("scheduled scan: %w", scanErr)
		}
	}

	s.logger.Info().Time("tick", tickAt).Msg("scheduled pass complete")
	return nil
}

// sweepCache re-enqueues refreshes for assets that clients read recently,
// so their quotes stay warm between client requests.
func (s *Service) sweepCache() {
	if s.refresher == nil || s.recent == nil {
		return
	}
	for _, asset := range s.recent.RecentlyQueried(s.window) {
		s.refresher.TriggerRefresh(asset)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

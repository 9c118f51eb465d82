// Package jobs provides a bounded fire-and-forget queue for asynchronous
// refresh work. Delivery is at-least-once within the process; refreshes are
// idempotent so duplicates converge.
package jobs

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// RefreshFunc performs an asynchronous refresh for one asset.
type RefreshFunc func(ctx context.Context, assetID string)

// Queue fans asset refresh requests out to a fixed pool of workers.
type Queue struct {
	jobs    chan string
	refresh RefreshFunc
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	started bool
}

// NewQueue constructs a queue with the given buffer size.
func NewQueue(size int, refresh RefreshFunc, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		jobs:    make(chan string, size),
		refresh: refresh,
		logger:  logger.With().Str("component", "refresh_queue").Logger(),
		pending: make(map[string]struct{}),
	}
}

// Start launches workers that drain the queue until ctx is cancelled.
func (q *Queue) Start(ctx context.Context, workers int) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go q.work(ctx)
	}
}

// Enqueue submits a refresh request without blocking. Requests for an
// asset already queued are coalesced; a full queue drops the request with
// a warning.
func (q *Queue) Enqueue(assetID string) {
	q.mu.Lock()
	if _, dup := q.pending[assetID]; dup {
		q.mu.Unlock()
		return
	}
	q.pending[assetID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- assetID:
	default:
		q.mu.Lock()
		delete(q.pending, assetID)
		q.mu.Unlock()
		q.logger.Warn().Str("asset", assetID).Msg("refresh queue full, dropping request")
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case assetID := <-q.jobs:
			q.mu.Lock()
			delete(q.pending, assetID)
			q.mu.Unlock()
			q.refresh(ctx, assetID)
		}
	}
}
